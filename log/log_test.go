// Copyright 2018 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package log

import (
	"bytes"
	"strings"
	"testing"
)

func TestFilterDropsBelowThreshold(t *testing.T) {
	var buf bytes.Buffer
	logger := NewFilter(NewStdLogger(&buf), FilterLevel(LevelError))
	h := NewHelper(logger)
	h.Debugf("ignored %d", 1)
	h.Warnf("also ignored")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below threshold, got %q", buf.String())
	}
	h.Errorf("boom %s", "now")
	if !strings.Contains(buf.String(), "boom now") {
		t.Fatalf("expected error message in output, got %q", buf.String())
	}
}

func TestNopHelperDoesNotPanic(t *testing.T) {
	h := NewNopHelper()
	h.Errorf("anything")
}
