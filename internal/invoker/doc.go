// Package invoker выполняет работу SERVICE узлов.
//
// Invoker — одноразовый объект на одну попытку выполнения узла:
// Setup → SetOperation → SetInput... → Invoke → GetOutput/GetOutputs.
//
// Реализации:
//   - http.go — HTTPInvoker, JSON POST на внешний сервис
//   - func.go — FuncInvoker, операции внутри процесса
//
// Registry сопоставляет имя сервиса узла с фабрикой invoker'ов.
package invoker
