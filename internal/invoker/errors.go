package invoker

import "errors"

// Ошибки invoker'ов.
var (
	// ErrUnknownService — для сервиса узла не зарегистрирована фабрика.
	ErrUnknownService = errors.New("unknown service")

	// ErrUnknownOperation — у func-сервиса нет такой операции.
	ErrUnknownOperation = errors.New("unknown operation")

	// ErrInvocationFailed — вызов завершился ошибкой, выходов не будет.
	ErrInvocationFailed = errors.New("invocation failed")

	// ErrNoOutput — вызов не вернул значение для порта.
	ErrNoOutput = errors.New("no output for port")

	// ErrAlreadyInvoked — invoker одноразовый, повторный Invoke запрещён.
	ErrAlreadyInvoked = errors.New("invoker already invoked")

	// ErrHTTPRequest — HTTP-запрос завершился ошибкой.
	ErrHTTPRequest = errors.New("http request failed")

	// ErrInvalidArgument — операция получила значение неподходящего типа.
	ErrInvalidArgument = errors.New("invalid argument")
)
