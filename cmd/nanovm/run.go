package main

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/nanovm/nanovm/pkg/config"
	"github.com/nanovm/nanovm/pkg/debugserver"
	"github.com/nanovm/nanovm/pkg/fiber"
	"github.com/nanovm/nanovm/pkg/heap"
	"github.com/nanovm/nanovm/pkg/marshal"
	"github.com/nanovm/nanovm/pkg/value"
	"github.com/nanovm/nanovm/pkg/vm"
	"github.com/spf13/cobra"
)

func newRunCommand() *cobra.Command {
	var configPath string
	var debugAddr string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Boot a VM and run the reference demo fibers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(configPath, debugAddr)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "nanovm.yaml", "path to a config file")
	cmd.Flags().StringVar(&debugAddr, "debug-addr", "", "if set, serve a debug websocket on this address (e.g. :9229)")
	return cmd
}

// runDemo boots a heap, a loop, and a pair of fibers exchanging a
// value over a channel -- exercising the heap, fiber, vm, and marshal
// packages together the way an embedder actually would, since none of
// them has a bytecode interpreter of its own to drive them.
func runDemo(configPath, debugAddr string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if cfg.Debug != nil && cfg.Debug.Log {
		heap.SetDebugLog(log.Println)
		vm.SetDebugLog(log.Println)
	}
	vm.SetErrorSink(func(f *fiber.Fiber, out value.Value, err error) {
		log.Printf("unsupervised fiber error: fiber=%p err=%v out=%v", f, err, out)
	})

	h := heap.New()
	if cfg.GC != nil && cfg.GC.MemoryInterval > 0 {
		h.SetInterval(cfg.GC.MemoryInterval)
	}
	in := value.NewInterner()

	loop, err := vm.New(h, in)
	if err != nil {
		return fmt.Errorf("starting event loop: %w", err)
	}
	defer loop.Close()

	if debugAddr != "" {
		srv := debugserver.NewServer(debugserver.FromLoop(h, loop), time.Second)
		mux := http.NewServeMux()
		mux.HandleFunc("/debug/live/", srv.HandleWebSocket)
		go func() {
			log.Printf("debug server listening on %s", debugAddr)
			if err := http.ListenAndServe(debugAddr, mux); err != nil {
				log.Printf("debug server stopped: %v", err)
			}
		}()
	}

	exec := fiber.NewNativeExecutor()
	ch := vm.NewChannel(loop, 1, false)

	producerDef := value.NewFuncDef(h, &value.FuncDef{})
	producerFn := value.NewFunction(h, producerDef, nil).AsFunction()
	exec.Register(producerDef, func(f *fiber.Fiber) (fiber.Signal, value.Value, error) {
		payload := value.NewString(h, "hello from nanovm")
		if ch.Give(f, payload) {
			return fiber.SigYield, value.Nil, nil
		}
		return fiber.SigOK, value.Nil, nil
	})

	consumerDef := value.NewFuncDef(h, &value.FuncDef{})
	consumerFn := value.NewFunction(h, consumerDef, nil).AsFunction()
	exec.Register(consumerDef, func(f *fiber.Fiber) (fiber.Signal, value.Value, error) {
		v, suspend := ch.Take(f)
		if suspend {
			return fiber.SigYield, value.Nil, nil
		}

		buf, err := marshal.Marshal(v)
		if err != nil {
			return fiber.SigError, value.Nil, err
		}
		round, err := marshal.Unmarshal(h, in, buf)
		if err != nil {
			return fiber.SigError, value.Nil, err
		}
		fmt.Printf("consumer received %q (marshaled round trip: %q, %d bytes)\n",
			v.AsString().String(), round.AsString().String(), len(buf))
		return fiber.SigOK, v, nil
	})

	producer, err := fiber.New(h, producerFn, 4, nil, exec)
	if err != nil {
		return err
	}
	consumer, err := fiber.New(h, consumerFn, 4, nil, exec)
	if err != nil {
		return err
	}

	loop.Schedule(producer, value.Nil)
	loop.Schedule(consumer, value.Nil)

	loop.Run(func(f *fiber.Fiber, v value.Value) (value.Value, fiber.Signal, error) {
		return f.Continue(v)
	})

	stats := loop.Stats()
	fmt.Printf("loop idle: %d live objects, %d collections, %d fibers ready\n",
		h.LiveCount(), h.Collections(), stats.ReadyCount)
	return nil
}
