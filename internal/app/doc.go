// Package app собирает зависимости процессов Interflow из config.Config:
// метрики, provenance, порты событий (лог, трассировка, RabbitMQ),
// историю runs в PostgreSQL и шаблон конфигурации интерпретатора.
//
// Бинарники interflow, interflow-api и interflow-scheduler используют
// один App, чтобы одинаково реагировать на одни и те же настройки.
package app
