// Package telemetry — логи, метрики и трейсы Interflow.
//
// Логи пишутся через slog, уровень и формат берутся из LOG_LEVEL и
// LOG_FORMAT. Metrics регистрирует счётчики тиков, узлов, runs,
// повторов и расписаний в переданном prometheus.Registerer; все методы
// безопасны для nil. При TRACING_ENABLED=true NewTracerProvider отдаёт
// span'ы узлов в LogExporter, который пишет их в лог на уровне DEBUG.
package telemetry
