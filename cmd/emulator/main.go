// Command emulator plays a kiosk against a running server: it obtains a
// channel token, connects and walks one visitor session to completion.
// The mint-admin subcommand prints an operator token signed with JWT_SECRET.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/gommon/log"
	"github.com/spf13/cobra"

	"github.com/iliyamo/kiosk-session-server/internal/gateway"
	"github.com/iliyamo/kiosk-session-server/internal/model"
	"github.com/iliyamo/kiosk-session-server/internal/utils"
)

type options struct {
	server        string
	kiosk         string
	secret        string
	method        string
	duration      string
	animal        string
	template      string
	name          string
	message       string
	clientConfirm bool
	timeout       time.Duration
}

func main() {
	logger := log.New("emulator")
	logger.SetLevel(log.INFO)
	if err := newRootCmd(logger).ExecuteContext(context.Background()); err != nil {
		logger.Fatal(err)
	}
}

func newRootCmd(logger *log.Logger) *cobra.Command {
	var o options
	root := &cobra.Command{
		Use:           "emulator",
		Short:         "Play one kiosk session against a running server",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, o.timeout)
			defer cancel()
			return run(ctx, o, logger)
		},
	}
	f := root.Flags()
	f.StringVar(&o.server, "server", "http://localhost:8080", "server base URL")
	f.StringVar(&o.kiosk, "kiosk", "kiosk-1", "kiosk id")
	f.StringVar(&o.secret, "secret", "dev-secret", "kiosk device secret")
	f.StringVar(&o.method, "pay", string(model.PaymentMobileQR), "payment method: mobile_qr or credit_card")
	f.StringVar(&o.duration, "duration", string(model.Duration30Days), "display tier")
	f.StringVar(&o.animal, "animal", "a1", "animal id")
	f.StringVar(&o.template, "template", "t1", "video template id")
	f.StringVar(&o.name, "name", "영희", "author name")
	f.StringVar(&o.message, "message", "건강하세요", "wish message")
	f.BoolVar(&o.clientConfirm, "client-confirm", false, "confirm payments with the client shortcut (server must allow it)")
	f.DurationVar(&o.timeout, "timeout", 5*time.Minute, "give up after this long")

	root.AddCommand(&cobra.Command{
		Use:   "mint-admin NAME",
		Short: "Print an operator token signed with JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := os.Getenv("JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("JWT_SECRET is required to mint an admin token")
			}
			tok, err := utils.NewToken(secret, args[0], utils.RoleAdmin, 12*time.Hour, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok.Token)
			return nil
		},
	})
	return root
}

func run(ctx context.Context, o options, logger *log.Logger) error {
	token, err := fetchToken(ctx, o)
	if err != nil {
		return err
	}
	wsURL := strings.Replace(strings.TrimRight(o.server, "/"), "http", "ws", 1) + "/v1/kiosks/ws?token=" + url.QueryEscape(token)
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial channel: %w", err)
	}
	defer ws.Close()
	go func() {
		<-ctx.Done()
		_ = ws.Close()
	}()

	k := &kiosk{o: o, ws: ws, log: logger}
	return k.loop(ctx)
}

func fetchToken(ctx context.Context, o options) (string, error) {
	body, _ := json.Marshal(map[string]string{"secret": o.secret})
	endpoint := strings.TrimRight(o.server, "/") + "/v1/kiosks/" + url.PathEscape(o.kiosk) + "/generate-token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	defer resp.Body.Close()
	var out struct {
		Token string `json:"token"`
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if resp.StatusCode != http.StatusCreated || out.Token == "" {
		return "", fmt.Errorf("generate token: %s %s", resp.Status, out.Error)
	}
	return out.Token, nil
}

type kiosk struct {
	o         options
	ws        *websocket.Conn
	log       *log.Logger
	sessionID string
	attempts  int
}

func (k *kiosk) send(event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	k.log.Infof("-> %s %s", event, raw)
	return k.ws.WriteJSON(gateway.Envelope{Event: event, Data: raw})
}

// loop reacts to server frames like the kiosk UI would: every screen
// answers with the visitor's next input.
func (k *kiosk) loop(ctx context.Context) error {
	for {
		var env gateway.Envelope
		if err := k.ws.ReadJSON(&env); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}
		k.log.Infof("<- %s %s", env.Event, env.Data)

		switch env.Event {
		case gateway.OutKioskConnected:
			if err := k.send("person_detected", map[string]any{"confidence": 0.95}); err != nil {
				return err
			}
		case gateway.OutSessionCreated:
			var d gateway.SessionCreatedData
			_ = json.Unmarshal(env.Data, &d)
			k.sessionID = d.SessionID
		case gateway.OutStateTransition:
			var d struct {
				NewState model.State `json:"newState"`
			}
			_ = json.Unmarshal(env.Data, &d)
			if err := k.onState(ctx, d.NewState); err != nil {
				return err
			}
		case gateway.OutPaymentQRGenerated:
			var d struct {
				PaymentURL string `json:"paymentUrl"`
			}
			_ = json.Unmarshal(env.Data, &d)
			if err := k.payByPhone(ctx, d.PaymentURL); err != nil {
				return err
			}
		case gateway.OutTicketGenerated:
			if err := k.send("ticket_qr_downloaded", struct{}{}); err != nil {
				return err
			}
		case gateway.OutSessionCompleted:
			k.log.Infof("session %s completed", k.sessionID)
			return nil
		case gateway.OutKioskDisconnected:
			return fmt.Errorf("replaced by another connection")
		}
	}
}

func (k *kiosk) onState(ctx context.Context, st model.State) error {
	switch st {
	case model.StateMotionDetection:
		return k.send("motion_completed", struct{}{})
	case model.StateAnimalSelection:
		return k.send("animal_selected", map[string]string{"animalId": k.o.animal})
	case model.StateUserInput:
		return k.send("user_input_submitted", map[string]string{"userName": k.o.name, "userMessage": k.o.message})
	case model.StateDurationSelection:
		return k.send("duration_selected", map[string]string{"duration": k.o.duration})
	case model.StatePaymentMethod:
		return k.send("payment_method_selected", map[string]string{"method": k.o.method})
	case model.StateCardPayment:
		k.attempts++
		return k.payByCard(ctx)
	case model.StateMobilePayment:
		k.attempts++
	case model.StateVideoTemplateSelection:
		return k.send("video_template_selected", map[string]string{"templateId": k.o.template})
	case model.StateCancelled:
		return fmt.Errorf("session %s cancelled", k.sessionID)
	}
	return nil
}

// payByPhone opens the payment URL the way the visitor's phone would.
func (k *kiosk) payByPhone(ctx context.Context, paymentURL string) error {
	if k.o.clientConfirm {
		return k.send("payment_completed", map[string]string{"transactionId": "emu-" + k.sessionID, "status": "completed"})
	}
	return k.post(ctx, paymentURL)
}

// payByCard stands in for the card terminal.  The sandbox names attempts
// after the session, so the terminal can confirm the current one.
func (k *kiosk) payByCard(ctx context.Context) error {
	if k.o.clientConfirm {
		return k.send("payment_completed", map[string]string{"transactionId": "emu-" + k.sessionID, "status": "completed"})
	}
	attempt := fmt.Sprintf("%s-p%d", k.sessionID, k.attempts)
	return k.post(ctx, strings.TrimRight(k.o.server, "/")+"/sandbox/pay/"+url.PathEscape(attempt))
}

func (k *kiosk) post(ctx context.Context, target string) error {
	// The attempt is registered once the provider answered; give it a moment.
	for i := 0; i < 10; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return fmt.Errorf("sandbox pay: %w", err)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return nil
		}
		if resp.StatusCode != http.StatusNotFound {
			return fmt.Errorf("sandbox pay: %s", resp.Status)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	return fmt.Errorf("sandbox pay: attempt never registered")
}
