// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package errlist

import "testing"

var testCategory = NewCategory("test-loader")

var codeA = Code{Category: testCategory, Value: 1, Message: "something went wrong"}
var codeB = Code{Category: testCategory, Value: 2, Message: "something else went wrong"}

func TestAddErrorDeduplicates(t *testing.T) {
	var l List
	l.AddError(codeA)
	l.AddError(codeA)
	if got := l.GetErrors(); len(got) != 1 {
		t.Fatalf("got %d errors, want 1: %+v", len(got), got)
	}
}

func TestContextDistinguishesEntries(t *testing.T) {
	var l List
	l.AddErrorContext(codeA, "kernel32.dll")
	l.AddErrorContext(codeA, "user32.dll")
	l.AddErrorIndex(codeA, 0)
	if got := l.GetErrors(); len(got) != 3 {
		t.Fatalf("got %d errors, want 3: %+v", len(got), got)
	}
}

func TestHasAnyErrorIgnoresContext(t *testing.T) {
	var l List
	l.AddErrorIndex(codeB, 5)
	if !l.HasAnyError(codeB) {
		t.Fatal("expected HasAnyError to find codeB regardless of context")
	}
	if l.HasError(codeB) {
		t.Fatal("HasError should require an exact no-context match")
	}
}

func TestCategoriesCompareByIdentityNotName(t *testing.T) {
	other := NewCategory("test-loader")
	if testCategory == other {
		t.Fatal("distinct categories with the same name must not be identical")
	}
}
