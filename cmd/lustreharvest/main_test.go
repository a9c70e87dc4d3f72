// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadSecretTrimsWhitespace(t *testing.T) {
	p := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(p, []byte("  s3kr1t\n"), 0o600))

	secret, err := loadSecret(p)
	require.NoError(t, err)
	require.Equal(t, "s3kr1t", string(secret))
}

func TestLoadSecretRejectsWhitespaceOnly(t *testing.T) {
	p := filepath.Join(t.TempDir(), "secret")
	require.NoError(t, os.WriteFile(p, []byte("   \n\t"), 0o600))

	_, err := loadSecret(p)
	require.Error(t, err)
}

func TestLoadSecretRejectsMissingFile(t *testing.T) {
	_, err := loadSecret(filepath.Join(t.TempDir(), "does-not-exist"))
	require.Error(t, err)
}
