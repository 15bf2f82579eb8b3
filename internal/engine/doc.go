// Package engine содержит модель выполнения графа workflow.
//
// Включает:
//   - document.go   — загрузка графа из YAML/JSON документа
//   - parser.go     — валидация графа и областей ForEach/DoWhile
//   - dag.go        — правила готовности узлов и топологический порядок
//   - state.go      — состояние одного run (узлы, значения портов, условия)
//   - expression.go — условия IF/DO_WHILE на HCL
//   - template.go   — рендеринг конфигурации invoker'ов ({{ .Inputs.x }})
//
// Engine не запускает узлы сам: он отвечает на вопрос "что готово"
// и хранит результаты. Планированием занимается пакет interpreter.
package engine
