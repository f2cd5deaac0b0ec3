// Package config loads process configuration from the environment, the
// same way the rest of the pack's ambient stack does: a thin layer over
// os.Getenv with typed defaults and a reflection-based struct binder, no
// separate config-file format or schema library.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// GetOrDefault returns os.Getenv(key), or defaultValue if unset or blank.
func GetOrDefault(key, defaultValue string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return defaultValue
	}

	return v
}

// GetBoolOrDefault returns os.Getenv(key) parsed as a bool, or
// defaultValue if unset or unparsable.
func GetBoolOrDefault(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}

	return v
}

// GetIntOrDefault returns os.Getenv(key) parsed as an int64, or
// defaultValue if unset or unparsable.
func GetIntOrDefault(key string, defaultValue int64) int64 {
	v, err := strconv.ParseInt(os.Getenv(key), 10, 64)
	if err != nil {
		return defaultValue
	}

	return v
}

var (
	envOnce    sync.Once
	envLoaded  bool
	envLoadErr error
)

// LoadDotEnv loads a .env file once per process when ENV_NAME=local (the
// default). It is a no-op, not an error, when no .env file is present —
// production deployments set real environment variables instead.
func LoadDotEnv() {
	envOnce.Do(func() {
		if GetOrDefault("ENV_NAME", "local") != "local" {
			return
		}

		envLoadErr = godotenv.Load()
		envLoaded = envLoadErr == nil
	})
}

// Loaded reports whether LoadDotEnv successfully read a .env file.
func Loaded() bool { return envLoaded }

// FromEnv populates the exported fields of the struct pointed to by s
// from their "env" struct tags. Supported kinds: string, bool, and the
// signed integer family.
func FromEnv(s any) error {
	v := reflect.ValueOf(s)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return errors.New("config: FromEnv requires a non-nil pointer")
	}

	e := v.Elem()
	t := e.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		tag, ok := field.Tag.Lookup("env")
		if !ok {
			continue
		}

		name := strings.Split(tag, ",")[0]
		if name == "" {
			continue
		}

		fv := e.Field(i)
		if !fv.CanSet() {
			continue
		}

		switch fv.Kind() {
		case reflect.Bool:
			fv.SetBool(GetBoolOrDefault(name, false))
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			fv.SetInt(GetIntOrDefault(name, 0))
		default:
			fv.SetString(os.Getenv(name))
		}
	}

	return nil
}

// MustFromEnv is FromEnv but panics on error, for use at process startup
// where there is no sensible recovery path.
func MustFromEnv(s any) any {
	if err := FromEnv(s); err != nil {
		panic(fmt.Sprintf("config: %v", err))
	}

	return s
}
