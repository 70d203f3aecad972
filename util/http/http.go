package http

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mocks/http.go -package=mocks . IClient
type IClient interface {
	DoHTTPRequest(ctx context.Context, requestParam *RequestParam) error
}

// RequestParam 一次请求的参数
//
//	Body: nil / io.Reader / []byte 原样发送，其他类型按 JSON 序列化
//	Response: *[]byte 接收原始响应体，其他非 nil 指针按 JSON 反序列化
type RequestParam struct {
	RequestURI string
	Method     string
	Header     map[string]string
	Query      map[string]string
	Body       interface{}
	Response   interface{}

	Timeout         time.Duration
	// MaxResponseSize 响应体字节上限，<= 0 不限
	MaxResponseSize int64
}
