// Package params resolves command parameters that may come from positional
// arguments, VMCAP_* environment variables or the config file.
package params

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/jeeftor/vmcap/internal/ocr"
)

// ErrMissingVMID is returned when no VM identifier was supplied anywhere.
var ErrMissingVMID = errors.New("VM ID is required: provide as argument or set VMCAP_VM_ID environment variable")

// ParameterInfo records where a resolved value came from.
type ParameterInfo struct {
	Value  string
	Source string // "argument", "config", "default" or "none"
}

// ParameterResolver reads from a viper instance. The zero value uses the
// global one.
type ParameterResolver struct {
	v *viper.Viper
}

// NewParameterResolver creates a resolver over v; nil means the global viper.
func NewParameterResolver(v *viper.Viper) *ParameterResolver {
	return &ParameterResolver{v: v}
}

func (r *ParameterResolver) viper() *viper.Viper {
	if r.v == nil {
		return viper.GetViper()
	}
	return r.v
}

func argument(args []string, i int) (string, bool) {
	if i < 0 || i >= len(args) || args[i] == "" {
		return "", false
	}
	return args[i], true
}

func (r *ParameterResolver) setting(key string) (string, bool) {
	v := r.viper()
	if !v.IsSet(key) {
		return "", false
	}
	s := v.GetString(key)
	return s, s != ""
}

// ResolveVMIDWithInfo resolves the VM identifier: explicit argument, then
// vm_id from the environment or config. Identifiers name QMP sockets, so
// path separators are rejected.
func (r *ParameterResolver) ResolveVMIDWithInfo(args []string, argIndex int) (ParameterInfo, error) {
	info := ParameterInfo{Source: "argument"}
	value, ok := argument(args, argIndex)
	if !ok {
		if value, ok = r.setting("vm_id"); !ok {
			return ParameterInfo{}, ErrMissingVMID
		}
		info.Source = "config"
	}
	if strings.ContainsAny(value, `/\`) || value == "." || value == ".." {
		return ParameterInfo{}, fmt.Errorf("invalid VM ID '%s': must not contain path separators", value)
	}
	info.Value = value
	return info, nil
}

// ResolveVMID is ResolveVMIDWithInfo without the source.
func (r *ParameterResolver) ResolveVMID(args []string, argIndex int) (string, error) {
	info, err := r.ResolveVMIDWithInfo(args, argIndex)
	return info.Value, err
}

// ResolveTrainingDataWithInfo resolves the OCR training file, falling back
// to ocr.DefaultTrainingDataPath.
func (r *ParameterResolver) ResolveTrainingDataWithInfo(args []string, argIndex int) ParameterInfo {
	if v, ok := argument(args, argIndex); ok {
		return ParameterInfo{Value: v, Source: "argument"}
	}
	if v, ok := r.setting("ocr.training_data"); ok {
		return ParameterInfo{Value: v, Source: "config"}
	}
	return ParameterInfo{Value: ocr.DefaultTrainingDataPath(), Source: "default"}
}

// ResolveTrainingData resolves the OCR training file path.
func (r *ParameterResolver) ResolveTrainingData(args []string, argIndex int) string {
	return r.ResolveTrainingDataWithInfo(args, argIndex).Value
}

// ResolveOutputFileWithInfo resolves an output path; empty when nothing is set.
func (r *ParameterResolver) ResolveOutputFileWithInfo(args []string, argIndex int) ParameterInfo {
	if v, ok := argument(args, argIndex); ok {
		return ParameterInfo{Value: v, Source: "argument"}
	}
	if v, ok := r.setting("output_file"); ok {
		return ParameterInfo{Value: v, Source: "config"}
	}
	return ParameterInfo{Source: "none"}
}

// ResolveOutputFile resolves an output path.
func (r *ParameterResolver) ResolveOutputFile(args []string, argIndex int) string {
	return r.ResolveOutputFileWithInfo(args, argIndex).Value
}

// ResolveScreenshotFormat returns the requested format, the configured one,
// or "png".
func (r *ParameterResolver) ResolveScreenshotFormat(flag string) string {
	if flag != "" {
		return strings.ToLower(flag)
	}
	if v, ok := r.setting("screenshot.format"); ok {
		return strings.ToLower(v)
	}
	return "png"
}
