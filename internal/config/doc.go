// Package config загружает конфигурацию процессов Interflow.
//
// Источник — YAML файл (путь в INTERFLOW_CONFIG или флаге --config),
// поверх которого применяются переменные окружения:
//
//	DB_URL, RABBITMQ_URL, PROVENANCE_DRIVER, PROVENANCE_DSN,
//	LIFECYCLE_ACCESS_KEY, LIFECYCLE_SECRET_KEY, LIFECYCLE_ENDPOINT,
//	API_PORT, CROSS_PRODUCT
//
// Файл необязателен: без него используются значения по умолчанию.
package config
