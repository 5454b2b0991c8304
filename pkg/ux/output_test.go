// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import "testing"

func TestSetPlain(t *testing.T) {
	SetPlain(true)
	if !Plain() {
		t.Error("Plain() should be true after SetPlain(true)")
	}
	SetPlain(false)
	if Plain() {
		t.Error("Plain() should be false after SetPlain(false)")
	}
}

func TestStyled_PlainModePassthrough(t *testing.T) {
	SetPlain(true)
	defer SetPlain(false)

	if got := styled(Styles.Error, "boom"); got != "boom" {
		t.Errorf("plain mode should not style, got %q", got)
	}
}
