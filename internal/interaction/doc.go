// Package interaction — граница между интерпретатором и фронтендами.
//
// Интерпретатор отправляет события одного типа Event (вид задаётся EventKind)
// и запрашивает у порта вложенные интерпретаторы для SUB_GRAPH узлов.
//
// Реализации Port:
//   - ChannelPort — события в канал (TUI, API)
//   - Collector   — запоминает события (тесты, отчёты CLI)
//   - LogPort     — slog
//   - MQPort      — RabbitMQ
//   - TracingPort — OpenTelemetry спаны
//   - Multi       — рассылка нескольким портам
package interaction
