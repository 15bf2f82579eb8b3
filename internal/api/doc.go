// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go     — Handler с DI (orchestrator, история runs, logger)
//   - routes.go      — регистрация маршрутов
//   - middleware.go  — middleware (request id, logging, recovery)
//   - response.go    — унифицированные JSON-ответы и обработка ошибок
//   - dto.go         — Data Transfer Objects (request/response)
//   - run_handler.go — обработчики для /runs и команд управления
//   - graph_handler.go — проверка графов и список сервисов
//
// API запускает workflow, показывает их состояние и принимает команды
// pause/resume/step/stop.
package api
