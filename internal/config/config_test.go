// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/plaguedbypenguins/lustreharvest/internal/model"
)

const validConfig = `{
	"gatherRate": 3,
	"port": 8022,
	"secretFile": "/root/.lustreHarvest.secret",
	"statsDirs": {
		"object": ["/proc/fs/lustre/obdfilter"],
		"metadata": ["/proc/fs/lustre/mdt"]
	},
	"filesystemAlias": {"data": "vu_short", "gdata": "g_data"},
	"headNodes": {"siteB": "head2.example.org"},
	"relayTopology": {"host1.example.org": ["siteB"]},
	"publisher": {"host": "239.2.11.71", "port": 8649, "protocol": "multicast"}
}`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, validConfig)
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 3, cfg.GatherRate)
	require.Equal(t, "vu_short", cfg.Alias("data"))
	require.Equal(t, "unknownfs", cfg.Alias("unknownfs"))
	require.Equal(t, map[model.Role][]string{
		model.RoleObject:   {"/proc/fs/lustre/obdfilter"},
		model.RoleMetadata: {"/proc/fs/lustre/mdt"},
	}, cfg.BaseDirs())
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `{"statsDirs":{},"filesystemAlias":{},"bogus":1}`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMissingRequiredFields(t *testing.T) {
	path := writeConfig(t, `{"gatherRate": 3}`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsNonPositiveGatherRate(t *testing.T) {
	path := writeConfig(t, `{"gatherRate": 0, "statsDirs":{}, "filesystemAlias":{}}`)
	_, err := Load(path)
	require.Error(t, err)
}
