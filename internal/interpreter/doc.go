// Package interpreter выполняет граф workflow.
//
// Interpreter — цикл планировщика над engine.RunState. На каждом tick'е
// он вычисляет готовые узлы, запускает их параллельно и ждёт барьер
// перед следующим шагом. Поведение узлов задаёт таблица обработчиков
// по типу узла:
//   - SERVICE — вызов invoker'а с повторами (retry.go)
//   - IF / END_IF — выбор ветки и слияние веток (handlers.go)
//   - FOR_EACH — параллельные реплики тела (foreach.go)
//   - DO_WHILE — фоновый цикл итераций (dowhile.go)
//   - SUB_GRAPH — вложенный run (subgraph.go)
//   - LIFECYCLE_START / LIFECYCLE_END — внешние ресурсы (lifecycle.go)
//
// Пауза, шаг и остановка задаются через Control, общий для run и всех
// его вложенных run. События уходят в interaction.Port, входы и выходы
// узлов — в provenance.Recorder.
package interpreter
