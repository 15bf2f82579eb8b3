// Package orchestrator управляет запущенными runs процесса.
//
// Orchestrator отвечает за:
//   - Создание интерпретатора на каждый run (свой Control, общий Port и Recorder)
//   - Выполнение runs в фоне и сохранение итога в RunStore
//   - Реестр активных и недавно завершённых runs
//   - Команды управления pause/resume/step/stop (API и очередь RabbitMQ)
//
// API и scheduler запускают runs только через Orchestrator.
package orchestrator
