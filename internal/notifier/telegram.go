package notifier

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
)

const telegramAPI = "https://api.telegram.org"

// Telegram sends HTML messages to one chat and long-polls getUpdates for
// commands.
type Telegram struct {
	client      *resty.Client
	chatID      string
	pollTimeout time.Duration
}

func NewTelegramNotifier(token, chatID string, pollTimeout time.Duration) *Telegram {
	return newTelegram(telegramAPI, token, chatID, pollTimeout)
}

func newTelegram(host, token, chatID string, pollTimeout time.Duration) *Telegram {
	client := resty.New().
		SetBaseURL(host+"/bot"+token).
		SetTimeout(15*time.Second + pollTimeout).
		SetHeader("Content-Type", "application/json")
	return &Telegram{client: client, chatID: chatID, pollTimeout: pollTimeout}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

// Update is the subset of a Telegram update the bot reads.
type Update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		Text string `json:"text"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"message"`
}

// ToCommand flattens an update. Updates without a message keep their id so the
// cursor still moves past them.
func (u Update) ToCommand() Command {
	c := Command{ID: u.UpdateID}
	if u.Message != nil {
		c.Text = u.Message.Text
		c.SenderID = strconv.FormatInt(u.Message.Chat.ID, 10)
	}
	return c
}

func (t *Telegram) call(req *resty.Request, method, endpoint string) (json.RawMessage, error) {
	var out apiResponse
	resp, err := req.SetResult(&out).SetError(&out).Execute(method, endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "telegram %s", endpoint)
	}
	if !resp.IsSuccess() || !out.OK {
		return nil, errors.Errorf("telegram %s: status %d: %s", endpoint, resp.StatusCode(), out.Description)
	}
	return out.Result, nil
}

func (t *Telegram) Send(ctx context.Context, msg string) error {
	req := t.client.R().SetContext(ctx).SetBody(map[string]any{
		"chat_id":                  t.chatID,
		"text":                     msg,
		"parse_mode":               "HTML",
		"disable_web_page_preview": true,
	})
	_, err := t.call(req, resty.MethodPost, "/sendMessage")
	return err
}

// Poll returns updates with ids above cursor, oldest first.
func (t *Telegram) Poll(ctx context.Context, cursor int64) ([]Command, error) {
	req := t.client.R().SetContext(ctx).SetQueryParams(map[string]string{
		"offset":          strconv.FormatInt(cursor+1, 10),
		"timeout":         strconv.Itoa(int(t.pollTimeout.Seconds())),
		"allowed_updates": `["message"]`,
	})
	raw, err := t.call(req, resty.MethodGet, "/getUpdates")
	if err != nil {
		return nil, err
	}

	var updates []Update
	if err := json.Unmarshal(raw, &updates); err != nil {
		return nil, errors.Wrap(err, "decode getUpdates")
	}

	cmds := make([]Command, 0, len(updates))
	for _, u := range updates {
		cmds = append(cmds, u.ToCommand())
	}
	return cmds, nil
}
