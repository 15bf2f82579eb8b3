// Package mq связывает Interflow с RabbitMQ.
//
// События Interaction Port уходят в topic-обменник interflow.events с
// ключом, равным виду события. Команды pause/resume/step/stop приходят
// через interflow.control и читаются Consumer'ом оркестратора; команда,
// которую применить нельзя, оседает в dlq.control. Connection
// переподключается сам, Consumer после этого подписывается заново.
package mq
