package game

import (
	"fmt"
	"strings"
)

// Signal 四种颜色信号之一
type Signal int

const (
	SignalGreen Signal = iota
	SignalRed
	SignalYellow
	SignalBlue
	// SignalUnspecified 哨兵值，不会出现在序列中，也不是合法的猜测
	SignalUnspecified
)

// PlayableSignals 可出现在序列中的信号
var PlayableSignals = [...]Signal{SignalGreen, SignalRed, SignalYellow, SignalBlue}

var signalNames = map[Signal]string{
	SignalGreen:       "green",
	SignalRed:         "red",
	SignalYellow:      "yellow",
	SignalBlue:        "blue",
	SignalUnspecified: "unspecified",
}

func (s Signal) String() string {
	if name, ok := signalNames[s]; ok {
		return name
	}
	return fmt.Sprintf("signal(%d)", int(s))
}

// IsPlayable 是否为四种颜色之一
func (s Signal) IsPlayable() bool {
	return s >= SignalGreen && s <= SignalBlue
}

// ParseSignal 解析信号名称（不区分大小写）
func ParseSignal(name string) (Signal, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for sig, n := range signalNames {
		if n == name {
			return sig, nil
		}
	}
	return SignalUnspecified, fmt.Errorf("%w: %q", ErrInvalidSignal, name)
}

// MarshalText 实现 encoding.TextMarshaler
func (s Signal) MarshalText() ([]byte, error) {
	if _, ok := signalNames[s]; !ok {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSignal, int(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (s *Signal) UnmarshalText(text []byte) error {
	sig, err := ParseSignal(string(text))
	if err != nil {
		return err
	}
	*s = sig
	return nil
}
