// Package tui — интерактивный фронтенд выполнения графа в терминале.
//
// Model подписывается на события интерпретатора через
// interaction.ChannelPort и показывает таблицу узлов с их состояниями,
// значения OUTPUT узлов и ошибки. Клавиши управляют общим Control run:
//
//	p — pause, r — resume, s — step, q — stop и выход
//
// Запуск:
//
//	res, err := tui.Run(ctx, graph, interpCfg, inputs)
package tui
