package codec

import (
	"errors"
	"fmt"
	"strings"
)

const defaultImageMime = "image/png"

func DataURL(mimeType, base64Data string) string {
	return fmt.Sprintf("data:%s;base64,%s", mimeType, base64Data)
}

// ParseDataURL splits a data URL into its mime type and base64 payload. A value without
// the data: prefix is treated as bare base64 with the default image mime type.
func ParseDataURL(value string) (mimeType string, base64Data string, err error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", "", errors.New("empty data url")
	}

	const prefix = "data:"
	if !strings.HasPrefix(value, prefix) {
		return defaultImageMime, value, nil
	}

	parts := strings.SplitN(value, ",", 2)
	if len(parts) != 2 {
		return "", "", errors.New("invalid data url")
	}

	meta := strings.TrimPrefix(parts[0], prefix)
	if !strings.HasSuffix(meta, ";base64") {
		return "", "", errors.New("data url is not base64 encoded")
	}
	mimeType = strings.TrimSpace(strings.Split(meta, ";")[0])
	if mimeType == "" {
		mimeType = defaultImageMime
	}
	if parts[1] == "" {
		return "", "", errors.New("data url has no payload")
	}
	return mimeType, parts[1], nil
}

// BaseMimeType drops parameters such as "; charset=utf-8".
func BaseMimeType(value string) string {
	if idx := strings.IndexByte(value, ';'); idx >= 0 {
		value = value[:idx]
	}
	return strings.ToLower(strings.TrimSpace(value))
}
