// Package scheduler запускает workflow по расписанию.
//
// Расписания берутся из конфигурации процесса (config.Scheduler.Schedules):
// файл графа, cron-выражение или интервал, часовой пояс и значения Input узлов.
// Scheduler периодически проверяет, какие расписания подошли, загружает граф
// и отдаёт его Submitter'у (обычно orchestrator) на headless выполнение.
//
// Структура:
//   - scheduler.go — Scheduler (Run, Tick, fire)
//   - cron.go      — парсинг cron-выражений и вычисление следующего времени
//
// Использование:
//
//	sched, err := scheduler.New(scheduler.Config{
//	    Schedules: cfg.Schedules(),
//	    Submitter: scheduler.OrchestratorSubmitter{Orchestrator: orch},
//	    BaseDir:   filepath.Dir(configPath),
//	    Logger:    logger,
//	})
//
//	go sched.Run(ctx, cfg.Scheduler.TickInterval)
//
// Расписания живут в памяти процесса: после рестарта время следующего
// запуска вычисляется заново от текущего момента, пропущенные запуски
// не догоняются.
package scheduler
