package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/suite"
)

// ErrorsTestSuite 错误包测试套件
type ErrorsTestSuite struct {
	suite.Suite
}

// 测试创建新错误
func (suite *ErrorsTestSuite) TestNew() {
	err := New(ErrInvalidSignal)
	suite.NotNil(err)
	suite.Equal(ErrInvalidSignal, err.Code)
	suite.Equal("无效的信号", err.Message)
	suite.Empty(err.Details)

	err = New(ErrSessionNotFound, "abc")
	suite.Equal("abc", err.Details)
	suite.Equal("[2007] 会话不存在: abc", err.Error())

	err = New(ErrDatabaseConnect, "连接失败", "主机: localhost")
	suite.Equal("连接失败; 主机: localhost", err.Details)

	// 未知错误码回退到通用消息
	err = New(ErrorCode(9999))
	suite.Equal("未知错误", err.Message)
}

// 测试格式化错误创建
func (suite *ErrorsTestSuite) TestNewf() {
	err := Newf(ErrInvalidScore, "分数 %d 无效", -1)
	suite.Equal(ErrInvalidScore, err.Code)
	suite.Equal("分数 -1 无效", err.Details)
}

// 测试错误包装
func (suite *ErrorsTestSuite) TestWrap() {
	originalErr := errors.New("原始错误")
	wrappedErr := Wrap(originalErr, ErrDatabaseQuery)
	suite.Equal(ErrDatabaseQuery, wrappedErr.Code)
	suite.Equal("原始错误", wrappedErr.Details)
	suite.Equal(originalErr, wrappedErr.Cause)
	suite.True(errors.Is(wrappedErr, originalErr))

	suite.Nil(Wrap(nil, ErrUnknown))

	// 包装已有的AppError时保留原始错误码
	appErr := New(ErrGameFinished, "已结束")
	wrappedAppErr := Wrap(appErr, ErrInvalidParam, "额外信息")
	suite.Equal(ErrGameFinished, wrappedAppErr.Code)
	suite.Contains(wrappedAppErr.Details, "额外信息")
}

// 测试格式化错误包装
func (suite *ErrorsTestSuite) TestWrapf() {
	originalErr := errors.New("连接超时")
	wrappedErr := Wrapf(originalErr, ErrDatabaseConnect, "数据库 %s 连接失败", "sqlite")
	suite.Equal("数据库 sqlite 连接失败", wrappedErr.Details)
	suite.Equal(originalErr, wrappedErr.Cause)
}

// 测试错误码判断
func (suite *ErrorsTestSuite) TestIsAndGetCode() {
	err := New(ErrSequenceInProgress)
	suite.True(Is(err, ErrSequenceInProgress))
	suite.False(Is(err, ErrGameFinished))
	suite.False(Is(nil, ErrGameFinished))

	wrapped := fmt.Errorf("外层: %w", err)
	suite.True(Is(wrapped, ErrSequenceInProgress))
	suite.Equal(ErrSequenceInProgress, GetCode(wrapped))

	suite.Equal(ErrorCode(0), GetCode(nil))
	suite.Equal(ErrUnknown, GetCode(errors.New("普通错误")))
}

// 测试HTTP状态码映射
func (suite *ErrorsTestSuite) TestHTTPStatus() {
	cases := map[ErrorCode]int{
		ErrNotFound:           http.StatusNotFound,
		ErrSessionNotFound:    http.StatusNotFound,
		ErrInvalidParam:       http.StatusBadRequest,
		ErrInvalidSignal:      http.StatusBadRequest,
		ErrInvalidPlayerName:  http.StatusBadRequest,
		ErrInvalidPicture:     http.StatusBadRequest,
		ErrScoreAlreadySaved:  http.StatusBadRequest,
		ErrGameFinished:       http.StatusConflict,
		ErrSequenceInProgress: http.StatusConflict,
		ErrRateLimitExceeded:  http.StatusTooManyRequests,
		ErrTokenExpired:       http.StatusUnauthorized,
		ErrTokenInvalid:       http.StatusUnauthorized,
		ErrDatabaseQuery:      http.StatusServiceUnavailable,
		ErrUnknown:            http.StatusInternalServerError,
	}
	for code, status := range cases {
		suite.Equal(status, New(code).HTTPStatus(), "code %d", code)
	}
}

// 测试调用栈捕获
func (suite *ErrorsTestSuite) TestStack() {
	err := New(ErrUnknown)
	suite.NotEmpty(err.Stack)
	suite.NotEmpty(err.GetStack())
	for _, frame := range err.Stack {
		suite.NotContains(frame.Function, "simon-game/internal/errors.New")
	}
}

// 测试可重试和严重错误判断
func (suite *ErrorsTestSuite) TestRetryableAndCritical() {
	suite.True(IsRetryable(New(ErrRateLimitExceeded)))
	suite.False(IsRetryable(New(ErrInvalidSignal)))
	suite.True(IsCritical(New(ErrDatabaseMigrate)))
	suite.False(IsCritical(New(ErrGameFinished)))
}

// 测试错误响应
func (suite *ErrorsTestSuite) TestErrorResponse() {
	resp := NewErrorResponse(New(ErrTokenInvalid), "req-1")
	suite.False(resp.Success)
	suite.Equal("req-1", resp.RequestID)
	suite.Equal(ErrTokenInvalid, resp.Error.Code)
	suite.NotZero(resp.Timestamp)
}

func TestErrorsTestSuite(t *testing.T) {
	suite.Run(t, new(ErrorsTestSuite))
}
