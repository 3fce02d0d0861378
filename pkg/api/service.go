package api

import (
	"multireq/internal/logger"
	"multireq/internal/manager"
	"multireq/pkg/traffic"
)

// Manager 请求调度接口
type Manager interface {
	// SetParallelLimit 设置并发传输上限，0 表示不限
	SetParallelLimit(n int)

	// AddRequest 提交请求
	AddRequest(req *traffic.Request)

	// WaitForAllRequests 等待所有请求完成
	WaitForAllRequests()

	// WaitForSingleRequest 等待指定请求完成
	WaitForSingleRequest(req *traffic.Request)

	// Close 释放引擎资源
	Close() error
}

// Options 创建调度器的选项
type Options struct {
	ParallelLimit int
	Logger        logger.Logger
	Recorder      manager.Recorder
}

// NewManager 创建并返回调度接口实现
func NewManager(opts Options) Manager {
	return &service{m: manager.New(manager.Config{
		ParallelLimit: opts.ParallelLimit,
		Logger:        opts.Logger,
		Recorder:      opts.Recorder,
	})}
}

type service struct {
	m *manager.Manager
}

func (s *service) SetParallelLimit(n int) { s.m.SetParallelLimit(n) }

func (s *service) AddRequest(req *traffic.Request) { s.m.AddRequest(req) }

func (s *service) WaitForAllRequests() { s.m.WaitForAllRequests() }

func (s *service) WaitForSingleRequest(req *traffic.Request) { s.m.WaitForSingleRequest(req) }

func (s *service) Close() error { return s.m.Close() }
