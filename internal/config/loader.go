package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/maps"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/tgdrive/geonotify/internal/duration"
)

const envPrefix = "GEONOTIFY_"

var durationType = reflect.TypeOf(time.Duration(0))

type flagSpec struct {
	key string
	typ reflect.Type
}

// ConfigLoader registers flags from struct tags and merges defaults, config file,
// environment and explicitly set flags, in that order of precedence.
type ConfigLoader struct {
	k        *koanf.Koanf
	flags    map[string]flagSpec
	envKeys  map[string]string
	validate *validator.Validate
	loaded   any
}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{
		k:        koanf.New("."),
		flags:    make(map[string]flagSpec),
		envKeys:  make(map[string]string),
		validate: validator.New(),
	}
}

// RegisterFlags adds one flag per leaf field of cfg. Flag names are the dotted
// koanf key with dots replaced by dashes, prefixed by prefix when set.
func (cl *ConfigLoader) RegisterFlags(flags *pflag.FlagSet, prefix string, cfg any, skipConfig bool) error {
	if !skipConfig && flags.Lookup("config") == nil {
		flags.StringP("config", "c", "", "Config file path (default $HOME/.geonotify/config.toml)")
	}
	t := reflect.TypeOf(cfg)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return errors.Errorf("config: expected struct, got %s", t.Kind())
	}
	return cl.registerStruct(flags, prefix, "", t)
}

func (cl *ConfigLoader) registerStruct(flags *pflag.FlagSet, prefix, parent string, t reflect.Type) error {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name := field.Tag.Get("koanf")
		if name == "" || name == "-" {
			continue
		}
		key := name
		if parent != "" {
			key = parent + "." + name
		}
		if field.Type.Kind() == reflect.Struct && field.Type != durationType {
			if err := cl.registerStruct(flags, prefix, key, field.Type); err != nil {
				return err
			}
			continue
		}
		flagName := strings.ReplaceAll(key, ".", "-")
		if prefix != "" {
			flagName = prefix + "-" + flagName
		}
		if err := addFlag(flags, flagName, field); err != nil {
			return errors.Wrapf(err, "flag %s", flagName)
		}
		cl.flags[flagName] = flagSpec{key: key, typ: field.Type}
		cl.envKeys[strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))] = key
	}
	return nil
}

func addFlag(flags *pflag.FlagSet, name string, field reflect.StructField) error {
	def := field.Tag.Get("default")
	usage := field.Tag.Get("description")

	if field.Type == durationType {
		var d time.Duration
		if def != "" {
			v, err := duration.Parse(def)
			if err != nil {
				return err
			}
			d = v
		}
		duration.Var(flags, new(time.Duration), name, d, usage)
		return nil
	}

	switch field.Type.Kind() {
	case reflect.String:
		flags.String(name, def, usage)
	case reflect.Bool:
		v := false
		if def != "" {
			b, err := strconv.ParseBool(def)
			if err != nil {
				return err
			}
			v = b
		}
		flags.Bool(name, v, usage)
	case reflect.Int:
		v, err := atoiDefault(def)
		if err != nil {
			return err
		}
		flags.Int(name, v, usage)
	case reflect.Int64:
		v, err := atoiDefault(def)
		if err != nil {
			return err
		}
		flags.Int64(name, int64(v), usage)
	case reflect.Float64:
		v := 0.0
		if def != "" {
			f, err := strconv.ParseFloat(def, 64)
			if err != nil {
				return err
			}
			v = f
		}
		flags.Float64(name, v, usage)
	case reflect.Slice:
		if field.Type.Elem().Kind() != reflect.String {
			return errors.Errorf("unsupported slice type %s", field.Type)
		}
		var v []string
		if def != "" {
			v = strings.Split(def, ",")
		}
		flags.StringSlice(name, v, usage)
	default:
		return errors.Errorf("unsupported type %s", field.Type)
	}
	return nil
}

func atoiDefault(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

// Load merges every source and decodes the result into cfg.
func (cl *ConfigLoader) Load(cmd *cobra.Command, cfg any) error {
	flags := cmd.Flags()

	if err := cl.k.Load(&flagProvider{loader: cl, flags: flags}, nil); err != nil {
		return errors.Wrap(err, "load flag defaults")
	}

	if path := cl.configFile(flags); path != "" {
		var parser koanf.Parser = toml.Parser()
		if ext := filepath.Ext(path); ext == ".yaml" || ext == ".yml" {
			parser = yaml.Parser()
		}
		if err := cl.k.Load(file.Provider(path), parser); err != nil {
			return errors.Wrapf(err, "read config file %s", path)
		}
	}

	if err := cl.k.Load(env.Provider(envPrefix, ".", cl.envKey), nil); err != nil {
		return errors.Wrap(err, "load environment")
	}

	if err := cl.k.Load(&flagProvider{loader: cl, flags: flags, onlyChanged: true}, nil); err != nil {
		return errors.Wrap(err, "load flags")
	}

	err := cl.k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				StringToDurationHook(),
				mapstructure.StringToSliceHookFunc(","),
			),
			WeaklyTypedInput: true,
			Result:           cfg,
		},
	})
	if err != nil {
		return errors.Wrap(err, "decode config")
	}
	cl.loaded = cfg
	return nil
}

// Validate checks the last loaded config against its validate tags.
func (cl *ConfigLoader) Validate() error {
	if cl.loaded == nil {
		return errors.New("config: nothing loaded")
	}
	if err := cl.validate.Struct(cl.loaded); err != nil {
		return errors.Wrap(err, "invalid config")
	}
	return nil
}

func (cl *ConfigLoader) configFile(flags *pflag.FlagSet) string {
	if f := flags.Lookup("config"); f != nil && f.Value.String() != "" {
		return f.Value.String()
	}
	var candidates []string
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".geonotify", "config.toml"))
	}
	candidates = append(candidates, "config.toml")
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

// envKey maps GEONOTIFY_DB_POOL_MAX_LIFETIME to db.pool.max-lifetime. Unknown
// variables are dropped.
func (cl *ConfigLoader) envKey(s string) string {
	return cl.envKeys[strings.TrimPrefix(s, envPrefix)]
}

func StringToDurationHook() mapstructure.DecodeHookFunc {
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if f.Kind() != reflect.String || t != durationType {
			return data, nil
		}
		return duration.Parse(data.(string))
	}
}

type flagProvider struct {
	loader      *ConfigLoader
	flags       *pflag.FlagSet
	onlyChanged bool
}

func (p *flagProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("flag provider does not support ReadBytes")
}

func (p *flagProvider) Read() (map[string]any, error) {
	out := make(map[string]any)
	for name, spec := range p.loader.flags {
		f := p.flags.Lookup(name)
		if f == nil || (p.onlyChanged && !f.Changed) {
			continue
		}
		if spec.typ.Kind() == reflect.Slice {
			v, err := p.flags.GetStringSlice(name)
			if err != nil {
				return nil, err
			}
			out[spec.key] = v
			continue
		}
		out[spec.key] = f.Value.String()
	}
	return maps.Unflatten(out, "."), nil
}
