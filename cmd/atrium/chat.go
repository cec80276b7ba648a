package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/atriumhq/atrium/pkg/agent"
	"github.com/atriumhq/atrium/pkg/registry"
)

// ChatCmd talks to one agent on a running server. With a terminal it runs
// an interactive session; with piped stdin it sends the input as a single
// turn and prints the reply.
type ChatCmd struct {
	Agent        string `arg:"" help:"Agent path to chat with."`
	Server       string `help:"Base URL of a running atrium server." default:"http://localhost:8080"`
	Stream       bool   `help:"Render the reply as it streams."`
	APIKey       string `name:"api-key" env:"ATRIUM_API_KEY" help:"Bearer token sent with every request; '-' prompts for it."`
	Conversation string `help:"Conversation id to continue (fresh id when empty)."`
}

func (c *ChatCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	apiKey := c.APIKey
	if apiKey == "-" {
		key, err := promptAPIKey()
		if err != nil {
			return err
		}
		apiKey = key
	}

	client := &chatClient{
		base:   strings.TrimRight(c.Server, "/"),
		apiKey: apiKey,
		// No client timeout: streamed turns are open-ended and the server
		// bounds its own writes.
		http: &http.Client{},
	}

	summary, err := client.getAgent(ctx, c.Agent)
	if err != nil {
		return fmt.Errorf("failed to reach agent %q: %w", c.Agent, err)
	}
	name := summary.Name
	if name == "" {
		name = summary.Path
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return c.runPiped(ctx, client)
	}
	return c.runInteractive(ctx, client, name)
}

// runPiped sends all of stdin as one turn.
func (c *ChatCmd) runPiped(ctx context.Context, client *chatClient) error {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	message := strings.TrimSpace(string(data))
	if message == "" {
		return fmt.Errorf("no input on stdin")
	}

	input := agent.ChatInput{Message: message, ConversationID: c.Conversation}
	if err := c.turn(ctx, client, input); err != nil {
		return err
	}
	fmt.Println()
	return nil
}

func (c *ChatCmd) runInteractive(ctx context.Context, client *chatClient, name string) error {
	reader := bufio.NewReader(os.Stdin)
	conversation := c.Conversation
	if conversation == "" {
		conversation = uuid.NewString()
	}

	fmt.Printf("\nChatting with %s. Commands:\n", name)
	fmt.Println("  /quit or /exit - end the session")
	fmt.Println("  /clear - start a fresh conversation")
	fmt.Println()

	for {
		fmt.Print("You: ")
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			fmt.Println()
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if strings.HasPrefix(input, "/") {
			switch input {
			case "/quit", "/exit":
				return nil
			case "/clear":
				conversation = uuid.NewString()
				fmt.Println("Started a fresh conversation")
				continue
			default:
				fmt.Printf("Unknown command: %s\n", input)
				continue
			}
		}

		fmt.Printf("\n%s: ", name)
		err = c.turn(ctx, client, agent.ChatInput{Message: input, ConversationID: conversation})
		if err != nil {
			if ctx.Err() != nil {
				fmt.Println()
				return nil
			}
			fmt.Printf("error: %v", err)
		}
		fmt.Println()
	}
}

// turn runs one exchange, streamed or buffered per the flag. The reply is
// printed without a trailing newline.
func (c *ChatCmd) turn(ctx context.Context, client *chatClient, input agent.ChatInput) error {
	if c.Stream {
		return client.stream(ctx, c.Agent, input, os.Stdout)
	}
	out, err := client.chat(ctx, c.Agent, input)
	if err != nil {
		return err
	}
	fmt.Print(out.Text)
	return nil
}

// promptAPIKey reads the key from the terminal without echoing it.
func promptAPIKey() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("cannot prompt for api key: stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, "API key: ")
	key, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read api key: %w", err)
	}
	return strings.TrimSpace(string(key)), nil
}

// chatClient speaks the server's chat API.
type chatClient struct {
	base   string
	apiKey string
	http   *http.Client
}

// chatFrame is one SSE data payload: a server start/done marker or an
// agent chunk.
type chatFrame struct {
	Type     string          `json:"type"`
	Content  string          `json:"content,omitempty"`
	ToolCall *agent.ToolCall `json:"toolCall,omitempty"`
}

func (cl *chatClient) getAgent(ctx context.Context, path string) (*registry.AgentSummary, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cl.base+"/agents/"+path, nil)
	if err != nil {
		return nil, err
	}
	cl.authorize(req)

	res, err := cl.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, decodeAPIError(res)
	}

	var summary registry.AgentSummary
	if err := json.NewDecoder(res.Body).Decode(&summary); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}
	return &summary, nil
}

func (cl *chatClient) chat(ctx context.Context, path string, input agent.ChatInput) (*agent.ChatOutput, error) {
	res, err := cl.post(ctx, "/agents/"+path+"/chat", input)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, decodeAPIError(res)
	}

	var body struct {
		Data *agent.ChatOutput `json:"data"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}
	if body.Data == nil {
		return nil, fmt.Errorf("empty response")
	}
	return body.Data, nil
}

// stream renders a streamed turn: text chunks are written as they arrive,
// tool calls as bracketed notices. An error chunk ends the turn as an
// error.
func (cl *chatClient) stream(ctx context.Context, path string, input agent.ChatInput, w io.Writer) error {
	res, err := cl.post(ctx, "/agents/"+path+"/stream", input)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return decodeAPIError(res)
	}

	scanner := bufio.NewScanner(res.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		data, ok := strings.CutPrefix(scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var frame chatFrame
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			return fmt.Errorf("malformed stream frame: %w", err)
		}
		switch frame.Type {
		case "text":
			fmt.Fprint(w, frame.Content)
		case "tool-call":
			if frame.ToolCall != nil {
				fmt.Fprintf(w, "\n[%s]\n", frame.ToolCall.ToolName)
			}
		case "error":
			return fmt.Errorf("%s", frame.Content)
		case "done":
			return nil
		}
	}
	return scanner.Err()
}

func (cl *chatClient) post(ctx context.Context, path string, v any) (*http.Response, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cl.base+path, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	cl.authorize(req)
	return cl.http.Do(req)
}

func (cl *chatClient) authorize(req *http.Request) {
	if cl.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+cl.apiKey)
	}
}

// decodeAPIError turns a non-200 response into an error built from the
// server's error envelope, falling back to the HTTP status.
func decodeAPIError(res *http.Response) error {
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(res.Body, 4096)).Decode(&envelope); err == nil && envelope.Error.Message != "" {
		return fmt.Errorf("%s (%s)", envelope.Error.Message, envelope.Error.Code)
	}
	return fmt.Errorf("server returned %s", res.Status)
}
