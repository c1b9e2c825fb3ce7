package config

import (
	"flag"
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"
)

// skippedConfigFlags is the list of command line flags that can't be set from the config file.
var skippedConfigFlags = []string{"print_version", "config_file"}

var durationType = reflect.TypeOf(time.Duration(0))

// leafValueToString converts a config leaf to its string representation suitable for flag setting.
func leafValueToString(v reflect.Value) (string, error) {
	if v.Type() == durationType {
		return time.Duration(v.Int()).String(), nil
	}
	switch v.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(v.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10), nil
	case reflect.Float32:
		return strconv.FormatFloat(v.Float(), 'g', -1, 32), nil
	case reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64), nil
	case reflect.String:
		return v.String(), nil
	default:
		return "", fmt.Errorf("unsupported kind: %v", v.Kind())
	}
}

// collectFlags collects the flag values set in the given config section into `flags`.
// Each leaf carries a `flag` tag that specifies its command line flag name; untagged struct pointers are sections.
func collectFlags(flags map[ /*flagName*/ string] /*flagValue*/ string, section reflect.Value) error {
	sectionType := section.Type()
	for fieldIdx := range sectionType.NumField() {
		field, value := sectionType.Field(fieldIdx), section.Field(fieldIdx)
		if value.Kind() != reflect.Pointer {
			return fmt.Errorf("config field %s.%s should be a pointer", sectionType.Name(), field.Name)
		}
		if value.IsNil() { // Not set in the config file.
			continue
		}
		flagName, hasFlagName := field.Tag.Lookup("flag")
		// Recurse into nested sections that do not carry a flag name themselves.
		if !hasFlagName {
			if value.Elem().Kind() != reflect.Struct {
				return fmt.Errorf("config field %s.%s has no flag name", sectionType.Name(), field.Name)
			}
			if err := collectFlags(flags, value.Elem()); err != nil {
				return err
			}
			continue
		}
		stringValue, err := leafValueToString(value.Elem())
		if err != nil {
			return fmt.Errorf("failed to convert %s.%s: %w", sectionType.Name(), field.Name, err)
		}
		// Check for duplicate flag entries.
		if _, alreadyExists := flags[flagName]; alreadyExists {
			return fmt.Errorf("flag '%s' has multiple entries in config: '%s.%s'", flagName, sectionType.Name(),
				field.Name)
		}
		flags[flagName] = stringValue
	}
	return nil
}

// configFlags returns the flag values set in `conf`.
func configFlags(conf *Config) (map[ /*flagName*/ string] /*flagValue*/ string, error) {
	flags := make(map[string]string)
	if conf == nil {
		return flags, nil
	}
	if err := collectFlags(flags, reflect.ValueOf(conf).Elem()); err != nil {
		return nil, fmt.Errorf("failed to collect flags: %w", err)
	}
	return flags, nil
}

// setConfigFlags sets all the filled flags in the given `conf` to the global flag variables.
func setConfigFlags(conf *Config) error {
	flags, err := configFlags(conf)
	if err != nil {
		return err
	}
	for flagName, flagValue := range flags {
		if setErr := flag.Set(flagName, flagValue); setErr != nil {
			return fmt.Errorf("failed to set flag %s: %w", flagName, setErr)
		}
	}
	return nil
}

// getDefinedFlags returns the set of flags that can be set through the given config schema.
func getDefinedFlags(schema reflect.Type) (map[ /*flagName*/ string]struct{}, error) {
	flagSet := make(map[ /*flagName*/ string]struct{})
	var walkFields func(section reflect.Type) error
	walkFields = func(section reflect.Type) error {
		for fieldIdx := range section.NumField() {
			field := section.Field(fieldIdx)
			if flagName, hasFlagName := field.Tag.Lookup("flag"); hasFlagName && flagName != "" {
				if _, exists := flagSet[flagName]; exists {
					return fmt.Errorf("duplicate flag name '%s' in config: %s.%s", flagName, section.Name(), field.Name)
				}
				flagSet[flagName] = struct{}{}
				continue
			}
			if fieldType := field.Type; fieldType.Kind() == reflect.Pointer && fieldType.Elem().Kind() == reflect.Struct {
				if err := walkFields(fieldType.Elem()); err != nil {
					return err
				}
			}
		}
		return nil
	}
	if err := walkFields(schema); err != nil {
		return nil, err
	}
	return flagSet, nil
}

// CollectUnregisteredFlags collects all flags that haven't been registered in the config schema.
// An error exists in the results corresponding to each unregistered flag.
func CollectUnregisteredFlags() []error {
	definedFlags, err := getDefinedFlags(reflect.TypeOf(Config{}))
	if err != nil {
		return []error{err}
	}
	errs := make([]error, 0)
	flag.VisitAll(func(f *flag.Flag) {
		if strings.HasPrefix(f.Name, "test.") { // Skip test flags.
			return
		}
		if slices.Contains(skippedConfigFlags, f.Name) {
			return
		}
		if _, flagHasConfigEntry := definedFlags[f.Name]; !flagHasConfigEntry {
			errs = append(errs, fmt.Errorf("flag '%s' has not been defined in config", f.Name))
		}
	})
	return errs
}
