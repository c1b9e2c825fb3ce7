package config

import (
	"flag"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/nobletooth/tickcache/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullConfig = `
logging:
  handler_type: text
  level: debug
cache:
  backend: memory
  shard_count: 8
  default_capacity: 500
  scopes: documents,descriptors
schedule:
  tick_interval: 30s
  tick_schedule: "*/5 * * * *"
admin:
  address: 127.0.0.1:6391
`

func TestParse(t *testing.T) {
	conf, err := Parse([]byte(fullConfig))
	require.NoError(t, err)
	require.NotNil(t, conf.Schedule)
	require.NotNil(t, conf.Schedule.TickInterval)
	assert.Equal(t, 30*time.Second, *conf.Schedule.TickInterval)

	flags, err := configFlags(conf)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"log_handler_type":             "text",
		"log_level":                    "debug",
		"cache_backend":                "memory",
		"store_shard_count":            "8",
		"clock_store_default_capacity": "500",
		"scopes":                       "documents,descriptors",
		"tick_interval":                "30s",
		"tick_schedule":                "*/5 * * * *",
		"admin_address":                "127.0.0.1:6391",
	}, flags)
}

func TestParse_PartialConfig(t *testing.T) {
	conf, err := Parse([]byte("cache:\n  backend: noop\n"))
	require.NoError(t, err)
	assert.Nil(t, conf.Logging)
	flags, err := configFlags(conf)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"cache_backend": "noop"}, flags, "Missing leaves shouldn't set flags")
}

func TestParse_Empty(t *testing.T) {
	conf, err := Parse(nil)
	require.NoError(t, err)
	flags, err := configFlags(conf)
	require.NoError(t, err)
	assert.Empty(t, flags)
}

func TestParse_Invalid(t *testing.T) {
	for _, testCase := range []struct {
		name   string
		config string
	}{
		{name: "unknown_field", config: "cache:\n  backedn: memory\n"},
		{name: "wrong_type", config: "cache:\n  shard_count: many\n"},
		{name: "invalid_duration", config: "schedule:\n  tick_interval: soon\n"},
		{name: "malformed", config: "cache: [\n"},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := Parse([]byte(testCase.config))
			assert.Error(t, err)
		})
	}
}

func TestSetConfigFlags(t *testing.T) {
	utils.SetTestFlags(t, map[string]string{"log_level": "info", "log_handler_type": "json"})
	conf, err := Parse([]byte("logging:\n  level: warn\n"))
	require.NoError(t, err)
	require.NoError(t, setConfigFlags(conf))
	assert.Equal(t, "warn", flag.Lookup("log_level").Value.String())
	assert.Equal(t, "json", flag.Lookup("log_handler_type").Value.String(), "Unset leaves should keep the flag value")

	// The admin flag is owned by a package this test binary doesn't link.
	conf, err = Parse([]byte("admin:\n  address: :7000\n"))
	require.NoError(t, err)
	assert.ErrorContains(t, setConfigFlags(conf), "failed to set flag admin_address")
}

func TestInitFlags(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "tickcache.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("logging:\n  level: error\n"), 0o600))
	utils.SetTestFlags(t, map[string]string{"config_file": configPath, "log_level": "info"})

	InitFlags()
	assert.Equal(t, "error", flag.Lookup("log_level").Value.String())

	t.Run("missing_file_keeps_defaults", func(t *testing.T) {
		utils.SetTestFlags(t, map[string]string{
			"config_file": filepath.Join(t.TempDir(), "missing.yaml"), "log_level": "info",
		})
		InitFlags()
		assert.Equal(t, "info", flag.Lookup("log_level").Value.String())
	})
}

func TestLoadFile(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	configPath := filepath.Join(t.TempDir(), "tickcache.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(fullConfig), 0o600))
	conf, err := LoadFile(configPath)
	require.NoError(t, err)
	require.NotNil(t, conf.Admin)
	assert.Equal(t, "127.0.0.1:6391", *conf.Admin.Address)
}

func TestGetDefinedFlags(t *testing.T) {
	definedFlags, err := getDefinedFlags(reflect.TypeOf(Config{}))
	require.NoError(t, err)
	assert.Len(t, definedFlags, 9)
	assert.Contains(t, definedFlags, "cache_backend")
	assert.Contains(t, definedFlags, "tick_schedule")

	type duplicated struct {
		First  *string `flag:"same"`
		Second *string `flag:"same"`
	}
	_, err = getDefinedFlags(reflect.TypeOf(duplicated{}))
	assert.ErrorContains(t, err, "duplicate flag name 'same'")
}

func TestCollectFlags_InvalidSchema(t *testing.T) {
	value := "v"
	type notPointer struct {
		Leaf string `flag:"leaf"`
	}
	type untaggedLeaf struct {
		Leaf *string
	}
	type unsupportedLeaf struct {
		Leaf *[]string `flag:"leaf"`
	}
	leaves := []string{"a"}
	for _, testCase := range []struct {
		name    string
		section any
	}{
		{name: "not_pointer", section: notPointer{Leaf: value}},
		{name: "untagged_leaf", section: untaggedLeaf{Leaf: &value}},
		{name: "unsupported_leaf", section: unsupportedLeaf{Leaf: &leaves}},
	} {
		t.Run(testCase.name, func(t *testing.T) {
			assert.Error(t, collectFlags(make(map[string]string), reflect.ValueOf(testCase.section)))
		})
	}
}

func TestCollectUnregisteredFlags(t *testing.T) {
	// Only the config and logging flags are linked into this test binary, and both are part of the schema.
	if flag.Lookup("config_test_only_flag") == nil {
		flag.String("config_test_only_flag", "", "A flag missing from the config schema.")
	}
	errs := CollectUnregisteredFlags()
	require.Len(t, errs, 1)
	assert.ErrorContains(t, errs[0], "config_test_only_flag")
}
