package nvram

import (
	"fmt"
	"strconv"

	"github.com/jeeftor/vmcap/internal/capability"
)

const (
	kindString = "string"
	kindData   = "data"
	kindBool   = "bool"
	kindInt    = "int"
	kindFloat  = "float"
)

func encodeValue(v capability.NVRAMValue) (string, []byte, error) {
	switch x := v.(type) {
	case string:
		return kindString, []byte(x), nil
	case []byte:
		return kindData, append([]byte(nil), x...), nil
	case bool:
		return kindBool, []byte(strconv.FormatBool(x)), nil
	case int64:
		return kindInt, []byte(strconv.FormatInt(x, 10)), nil
	case float64:
		return kindFloat, []byte(strconv.FormatFloat(x, 'g', -1, 64)), nil
	}
	return "", nil, fmt.Errorf("unsupported NVRAM value type %T", v)
}

func decodeValue(kind string, raw []byte) (capability.NVRAMValue, error) {
	switch kind {
	case kindString:
		return string(raw), nil
	case kindData:
		if raw == nil {
			return []byte{}, nil
		}
		return raw, nil
	case kindBool:
		return strconv.ParseBool(string(raw))
	case kindInt:
		return strconv.ParseInt(string(raw), 10, 64)
	case kindFloat:
		return strconv.ParseFloat(string(raw), 64)
	}
	return nil, fmt.Errorf("unknown value kind %q", kind)
}
