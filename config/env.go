package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// HandoffEnvPrefix is the prefix of the handoff environment overlay,
// e.g. HANDOFF_CONFIDENCE_THRESHOLD or HANDOFF_CIRCUIT_BREAKER_ENABLED.
const HandoffEnvPrefix = "HANDOFF"

// EnvLookup matches os.LookupEnv; tests inject a map-backed lookup.
type EnvLookup func(key string) (string, bool)

var durationType = reflect.TypeOf(time.Duration(0))

// overlayEnv 递归遍历结构体，按 env tag 从环境变量覆盖字段。
// 转换错误不会中断遍历，全部收集到 errs 中。
func overlayEnv(v reflect.Value, prefix string, lookup EnvLookup, errs *[]string) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}
		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct && field.Type() != durationType {
			overlayEnv(field, envKey, lookup, errs)
			continue
		}

		raw, ok := lookup(envKey)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		if err := setFieldValue(field, strings.TrimSpace(raw)); err != nil {
			*errs = append(*errs, fmt.Sprintf("%s: %v", envKey, err))
		}
	}
}

// setFieldValue 按字段类型转换并赋值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		if _, isEnum := field.Interface().(enumValue); isEnum {
			return setEnum(field, value)
		}
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == durationType {
			d, err := time.ParseDuration(value)
			if err != nil {
				return fmt.Errorf("invalid duration %q", value)
			}
			field.SetInt(int64(d))
			return nil
		}
		i, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid integer %q", value)
		}
		field.SetInt(i)

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid unsigned integer %q", value)
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid number %q", value)
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := parseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			out := make([]string, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					out = append(out, p)
				}
			}
			field.Set(reflect.ValueOf(out))
		}
	}

	return nil
}

func setEnum(field reflect.Value, value string) error {
	candidate := reflect.New(field.Type()).Elem()
	candidate.SetString(strings.ToLower(value))
	e := candidate.Interface().(enumValue)
	if !e.Valid() {
		return fmt.Errorf("invalid value %q, expected one of [%s]", value, strings.Join(e.Values(), ", "))
	}
	field.Set(candidate)
	return nil
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true, nil
	case "false", "0", "no", "off":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", value)
}

// ApplyEnv overlays HANDOFF_* variables onto cfg. Coercion failures are
// returned as a ValidationError and cfg is left partially updated; callers
// that need atomicity pass a copy.
func ApplyEnv(cfg *HandoffConfig, lookup EnvLookup) error {
	var errs []string
	overlayEnv(reflect.ValueOf(cfg).Elem(), HandoffEnvPrefix, lookup, &errs)
	if len(errs) > 0 {
		return &ValidationError{Violations: errs}
	}
	return nil
}
