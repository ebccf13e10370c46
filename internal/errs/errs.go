// 包 errs：分析引擎的结构化错误类型；调用方通过 errors.As 区分并向用户呈现
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// InvalidInputError：输入不满足计算前提（空参考集、零权重、零面积、缺失列）
type InvalidInputError struct {
	Op     string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("%s: invalid input: %s", e.Op, e.Reason)
}

// DisaggregationError：粗粒度区域没有可承载计数的辅助质量
type DisaggregationError struct {
	Zones []string
	Count float64
}

func (e *DisaggregationError) Error() string {
	return fmt.Sprintf("disaggregate: %d zone(s) with zero auxiliary mass cannot place count %.6g: %s",
		len(e.Zones), e.Count, strings.Join(e.Zones, ","))
}

// JoinAmbiguityError：空间连接中一个要素命中多个目标
type JoinAmbiguityError struct {
	Layer   string
	Subject string
	Matches []string
}

func (e *JoinAmbiguityError) Error() string {
	return fmt.Sprintf("spatial join %s: %s matches %d features (%s)",
		e.Layer, e.Subject, len(e.Matches), strings.Join(e.Matches, ","))
}

// Invalid：构造 InvalidInputError 的快捷方式
func Invalid(op, format string, args ...any) error {
	return &InvalidInputError{Op: op, Reason: fmt.Sprintf(format, args...)}
}

func IsInvalidInput(err error) bool {
	var e *InvalidInputError
	return errors.As(err, &e)
}

func IsDisaggregation(err error) bool {
	var e *DisaggregationError
	return errors.As(err, &e)
}

func IsJoinAmbiguity(err error) bool {
	var e *JoinAmbiguityError
	return errors.As(err, &e)
}
