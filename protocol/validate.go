package protocol

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"shadownet/vec"
)

const (
	DefaultMaxUsernameLength    = 32
	DefaultMaxPositionMagnitude = 1000.0
	DefaultRotationTolerance    = 0.01

	// SanitizedFallbackName 清洗后为空时使用的名字
	SanitizedFallbackName = "Player"
)

var (
	ErrInvalidUsername = errors.New("invalid username")
	ErrInvalidPosition = errors.New("invalid position")
	ErrInvalidRotation = errors.New("invalid rotation")
)

// Limits 数值合法性检查的阈值
type Limits struct {
	MaxUsernameLength    int     `json:"maxUsernameLength" yaml:"max_username_length"`
	MaxPositionMagnitude float64 `json:"maxPositionMagnitude" yaml:"max_position_magnitude"`
	RotationTolerance    float64 `json:"rotationTolerance" yaml:"rotation_tolerance"`
}

func DefaultLimits() Limits {
	return Limits{
		MaxUsernameLength:    DefaultMaxUsernameLength,
		MaxPositionMagnitude: DefaultMaxPositionMagnitude,
		RotationTolerance:    DefaultRotationTolerance,
	}
}

// ValidateUsername 非空白、长度不超过上限（按字符计）、合法 UTF-8、无控制字符
func (l Limits) ValidateUsername(username string) error {
	if strings.TrimSpace(username) == "" {
		return fmt.Errorf("%w: blank", ErrInvalidUsername)
	}
	if !utf8.ValidString(username) {
		return fmt.Errorf("%w: not valid utf-8", ErrInvalidUsername)
	}
	if n := utf8.RuneCountInString(username); n > l.MaxUsernameLength {
		return fmt.Errorf("%w: length %d exceeds %d", ErrInvalidUsername, n, l.MaxUsernameLength)
	}
	for _, r := range username {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: control character %U", ErrInvalidUsername, r)
		}
	}
	return nil
}

// SanitizeUsername 去除首尾空白与控制字符并截断；结果为空时返回 "Player"
func (l Limits) SanitizeUsername(username string) string {
	username = strings.TrimSpace(strings.ToValidUTF8(username, ""))
	username = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, username)
	if utf8.RuneCountInString(username) > l.MaxUsernameLength {
		username = string([]rune(username)[:l.MaxUsernameLength])
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return SanitizedFallbackName
	}
	return username
}

// ValidatePosition 分量有限且到原点距离不超过上限
func (l Limits) ValidatePosition(v vec.Vector3) error {
	if !v.IsFinite() {
		return fmt.Errorf("%w: non-finite %s", ErrInvalidPosition, v)
	}
	if m := v.Magnitude(); m > l.MaxPositionMagnitude {
		return fmt.Errorf("%w: magnitude %.2f exceeds %.2f", ErrInvalidPosition, m, l.MaxPositionMagnitude)
	}
	return nil
}

// ValidateRotation 分量有限且模长与 1 的偏差不超过容差
func (l Limits) ValidateRotation(q vec.Quaternion) error {
	if !q.IsFinite() {
		return fmt.Errorf("%w: non-finite %s", ErrInvalidRotation, q)
	}
	if d := math.Abs(q.Norm() - 1); d > l.RotationTolerance {
		return fmt.Errorf("%w: norm deviates by %.4f", ErrInvalidRotation, d)
	}
	return nil
}

// ValidateTransform 先位置后旋转
func (l Limits) ValidateTransform(t Transform) error {
	if err := l.ValidatePosition(t.Position); err != nil {
		return err
	}
	return l.ValidateRotation(t.Rotation)
}

// Validate 阈值自身的合法性
func (l Limits) Validate() error {
	if l.MaxUsernameLength <= 0 {
		return fmt.Errorf("invalid MaxUsernameLength=%d", l.MaxUsernameLength)
	}
	if !(l.MaxPositionMagnitude > 0) || math.IsInf(l.MaxPositionMagnitude, 0) {
		return fmt.Errorf("invalid MaxPositionMagnitude=%v", l.MaxPositionMagnitude)
	}
	if !(l.RotationTolerance > 0) || l.RotationTolerance >= 1 {
		return fmt.Errorf("invalid RotationTolerance=%v", l.RotationTolerance)
	}
	return nil
}
