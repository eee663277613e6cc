package node

import (
	"encoding"
	"fmt"
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides: l1.settler_key is read from
// AGGSETTLE_L1_SETTLER_KEY.
const EnvPrefix = "AGGSETTLE"

var (
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	durationType      = reflect.TypeOf(time.Duration(0))
)

// LoadConfig reads the configuration file at path over DefaultConfig. The
// format follows the extension (toml, yaml, json). An empty path loads the
// defaults and the environment only. The result is not validated.
func LoadConfig(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	return decodeConfig(v)
}

// ParseConfig reads a configuration in the given format from r.
func ParseConfig(r io.Reader, format string) (*Config, error) {
	v := newViper()
	v.SetConfigType(format)
	if err := v.ReadConfig(r); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", format, err)
	}
	return decodeConfig(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Viper only consults the environment for keys it knows, so every
	// default is registered explicitly.
	setDefaults(v, "", DefaultConfig().Settings())
	return v
}

func setDefaults(v *viper.Viper, prefix string, settings map[string]any) {
	for key, value := range settings {
		if nested, ok := value.(map[string]any); ok {
			setDefaults(v, prefix+key+".", nested)
			continue
		}
		v.SetDefault(prefix+key, value)
	}
}

func decodeConfig(v *viper.Viper) (*Config, error) {
	cfg := DefaultConfig()
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return &cfg, nil
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToTimeHookFunc(time.RFC3339),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	)
}

// Settings renders the configuration as nested maps keyed like the
// configuration file, with addresses, hashes, times and durations in their
// text form. Decoding the result yields c again.
func (c Config) Settings() map[string]any {
	out := make(map[string]any)
	settingsOf(reflect.ValueOf(c), out)
	return out
}

// WriteYAML writes the settings of c as a YAML configuration file.
func (c Config) WriteYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c.Settings()); err != nil {
		return err
	}
	return enc.Close()
}

func settingsOf(v reflect.Value, out map[string]any) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(field.Tag.Get("mapstructure"), ",")
		if opts == "squash" {
			settingsOf(v.Field(i), out)
			continue
		}
		if name == "" {
			name = strings.ToLower(field.Name)
		}
		if value, ok := settingValue(v.Field(i)); ok {
			out[name] = value
		}
	}
}

func settingValue(v reflect.Value) (any, bool) {
	switch {
	case v.Type() == durationType:
		return time.Duration(v.Int()).String(), true
	case v.Type().Implements(textMarshalerType):
		text, err := v.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return nil, false
		}
		return string(text), true
	}
	switch v.Kind() {
	case reflect.Struct:
		m := make(map[string]any)
		settingsOf(v, m)
		return m, true
	case reflect.Slice:
		if v.IsNil() {
			return nil, false
		}
		list := make([]any, 0, v.Len())
		for i := 0; i < v.Len(); i++ {
			if elem, ok := settingValue(v.Index(i)); ok {
				list = append(list, elem)
			}
		}
		return list, true
	default:
		return v.Interface(), true
	}
}
