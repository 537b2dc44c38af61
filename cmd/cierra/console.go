package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cierra-ai/cierra/internal/conversation"
	"github.com/cierra-ai/cierra/internal/orchestrator"
)

// runConsole drives a single conversation over stdin/stdout against the
// in-process orchestrator. It returns when the input closes, the user types
// /salir, or ctx is cancelled. The session is closed as abandoned on the way
// out so the tracking loop sees a terminal outcome.
func runConsole(ctx context.Context, orch *orchestrator.Orchestrator) {
	in := bufio.NewScanner(os.Stdin)

	fmt.Println()
	fmt.Println("Consola de demostración. Escribe tus mensajes; /salir termina la sesión.")
	fmt.Print("Nombre del cliente: ")
	if !in.Scan() {
		return
	}
	name := strings.TrimSpace(in.Text())
	if name == "" {
		name = "Invitada"
	}

	id, err := orch.StartConversation(ctx, conversation.CustomerProfile{
		Name:   name,
		Locale: "es-MX",
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "no se pudo iniciar la conversación:", err)
		return
	}
	fmt.Printf("Sesión %s iniciada. Hola, %s.\n\n", id, name)

	seq := 0
	for ctx.Err() == nil {
		fmt.Print("> ")
		if !in.Scan() {
			break
		}
		text := strings.TrimSpace(in.Text())
		if text == "" {
			continue
		}
		if text == "/salir" || text == "/quit" {
			break
		}

		seq++
		reply, err := orch.SendMessage(ctx, orchestrator.Request{
			SessionID:       id,
			ClientMessageID: fmt.Sprintf("console-%d", seq),
			Text:            text,
		})
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			continue
		}

		header := string(reply.Phase)
		if reply.Tier != "" {
			header += "/" + string(reply.Tier)
		}
		fmt.Printf("\nCierra [%s]: %s\n", header, reply.AgentText)
		if reply.Insights.Degraded {
			fmt.Println("(respuesta degradada)")
		}
		fmt.Printf("(conversión %.0f%%, empatía %.2f, siguiente acción: %s)\n\n",
			reply.Insights.ConversionProbability*100,
			reply.Insights.EmpathyScore,
			reply.Insights.NextBestAction,
		)
	}

	// A fresh context so the outcome still lands when ctx is already done.
	endCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := orch.EndConversation(endCtx, id, conversation.OutcomeAbandoned, "console closed"); err != nil {
		fmt.Fprintln(os.Stderr, "no se pudo cerrar la sesión:", err)
	}
	fmt.Println("Hasta pronto.")
}
