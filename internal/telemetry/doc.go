// Package telemetry 初始化 OpenTelemetry SDK，为视素服务提供 OTLP gRPC
// 链路与指标导出。禁用时保持全局 noop provider，不连接任何外部服务。
package telemetry
