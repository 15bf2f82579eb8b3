package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/shaiso/Interflow/internal/domain"
	"github.com/shaiso/Interflow/internal/interaction"
	"github.com/shaiso/Interflow/internal/interpreter"
)

// eventBuffer — буфер событий между интерпретатором и экраном.
const eventBuffer = 64

// Run выполняет граф под управлением терминального интерфейса.
//
// cfg.Port дополняется ChannelPort'ом экрана; Control создаётся новый.
// Run возвращает итог после выхода из интерфейса: если пользователь
// вышел до конца, run останавливается и Run дожидается его завершения.
func Run(ctx context.Context, g *domain.Graph, cfg interpreter.Config, inputs map[string]any, opts ...tea.ProgramOption) (*interpreter.Result, error) {
	port := interaction.NewChannelPort(eventBuffer)
	if cfg.Port != nil {
		cfg.Port = interaction.Multi{port, cfg.Port}
	} else {
		cfg.Port = port
	}
	cfg.Control = interpreter.NewControl()

	interp, err := interpreter.New(g, cfg)
	if err != nil {
		return nil, err
	}

	type outcome struct {
		res *interpreter.Result
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		res, err := interp.Run(ctx, inputs)
		port.Close()
		done <- outcome{res, err}
	}()

	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	program := tea.NewProgram(NewModel(g, cfg.Control, port.Events()), opts...)
	_, uiErr := program.Run()

	// Экран закрыт: остановить run и дочитать события, чтобы Notify не блокировался.
	_ = cfg.Control.Stop()
	go func() {
		for range port.Events() {
		}
	}()

	out := <-done
	if uiErr != nil && out.err == nil && ctx.Err() == nil {
		return out.res, fmt.Errorf("terminal ui: %w", uiErr)
	}
	return out.res, out.err
}
