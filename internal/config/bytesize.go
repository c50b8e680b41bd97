package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cast"
)

// ByteSize is a byte count that decodes from a JSON number or a human string.
type ByteSize uint64

const unlimitedBytes = "max"

// ParseByteSize accepts "123", "64MiB", "10 kB", "max" and "unlimited".
func ParseByteSize(raw string) (ByteSize, error) {
	s := strings.TrimSpace(raw)
	switch strings.ToLower(s) {
	case "":
		return 0, nil
	case unlimitedBytes, "unlimited":
		return ByteSize(math.MaxUint64), nil
	}
	if n, err := cast.ToUint64E(s); err == nil {
		return ByteSize(n), nil
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", raw, err)
	}
	return ByteSize(n), nil
}

func (b *ByteSize) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*b = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := ParseByteSize(s)
		if err != nil {
			return err
		}
		*b = v
		return nil
	}
	n, err := cast.ToUint64E(string(data))
	if err != nil {
		return fmt.Errorf("invalid byte size %s: %w", data, err)
	}
	*b = ByteSize(n)
	return nil
}

// MarshalJSON writes plain integers so a marshal/parse cycle is exact.
func (b ByteSize) MarshalJSON() ([]byte, error) {
	if b == ByteSize(math.MaxUint64) {
		return json.Marshal(unlimitedBytes)
	}
	return json.Marshal(uint64(b))
}

func (b ByteSize) String() string {
	if b == ByteSize(math.MaxUint64) {
		return unlimitedBytes
	}
	return humanize.IBytes(uint64(b))
}

// OrDefault returns def when b is zero.
func (b ByteSize) OrDefault(def uint64) uint64 {
	if b == 0 {
		return def
	}
	return uint64(b)
}
