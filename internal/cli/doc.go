// Package cli реализует инструмент командной строки Interflow.
//
// # Обзор
//
// Команды делятся на две группы:
//   - локальные (run, validate, watch, schedules) загружают граф из файла
//     и выполняют его в этом же процессе;
//   - серверные (runs, services) работают с Interflow API по HTTP.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для Interflow API. Раскрывает конверт {"data": ...}
// и превращает {"error": ...} в *APIError.
//
//	client := cli.NewClient("http://localhost:8080")
//	runs, err := client.ListRuns(cli.ListRunsOpts{Status: "RUNNING"})
//
// ## Runtime
//
// Окружение локального выполнения: конфигурация процесса и базовый
// interpreter.Config (registry, provenance, метрики). Создаётся в main
// через RuntimeFn уже после разбора флагов.
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (lipgloss/table) — по умолчанию
//   - JSON с отступами — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: interflow runs list --json | jq .
//
// ## Commands
//
//   - run FILE, validate FILE, watch FILE, schedules
//   - runs: list, submit, show, provenance, pause, resume, step, stop
//   - services
//
// Каждая группа создаётся фабричной функцией (NewRunsCmd, NewLocalCmds),
// принимающей clientFn/runtimeFn и outputFn — замыкания для ленивого
// создания зависимостей после парсинга PersistentFlags.
package cli
