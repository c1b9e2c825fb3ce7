// The admin port speaks the Redis protocol, so that operators can inspect and maintain a running cache with
// redis-cli. Every data command takes the scope as its first argument, e.g. `GET documents /etc/app.yaml`.

package port

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"strings"

	"github.com/nobletooth/tickcache/pkg/cache"
	"github.com/nobletooth/tickcache/pkg/scan"
	"github.com/tidwall/redcon"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const RedisOk = "OK"

var adminAddress = flag.String("admin_address", ":6390", "The ip:port to listen on for the Redis protocol admin port.")

// AdminEngine is the cache engine served by the admin port.
type AdminEngine = cache.Engine[string, string]

// redisCommand represents a Redis command with its arguments.
type redisCommand struct {
	command string
	args    []string
}

// redisOutput conforms to a real Redis server output on non pub / sub commands.
type redisOutput struct {
	closeConnection bool     // Closes the connection if true.
	writeNil        bool     // Writes a nil value if true.
	err             *string  // Error to return if set.
	writeInt        *int     // Writes an integer value if set.
	writeBulk       *string  // Writes a bulk string if set.
	writeArray      []string // Writes an array of bulk strings if `isArray` is set.
	isArray         bool
	writeString     string // Writes a simple string otherwise.
}

func closeRedisConnection(msg string) redisOutput {
	return redisOutput{writeString: msg, closeConnection: true}
}

func writeRedisNil() redisOutput {
	return redisOutput{writeNil: true}
}

func writeRedisInt(i int) redisOutput {
	return redisOutput{writeInt: &i}
}

func writeRedisString(s string) redisOutput {
	return redisOutput{writeString: s}
}

func writeRedisBulk(s string) redisOutput {
	return redisOutput{writeBulk: &s}
}

func writeRedisArray(values []string) redisOutput {
	return redisOutput{writeArray: values, isArray: true}
}

func writeRedisError(err error) redisOutput {
	msg := "ERR " + err.Error()
	return redisOutput{err: &msg}
}

func wrongArgs(command string) redisOutput {
	return writeRedisError(fmt.Errorf("wrong number of arguments for '%s' command", strings.ToLower(command)))
}

// replyWriter is the part of a redcon connection used to send replies; *redcon.Writer implements it as well.
type replyWriter interface {
	WriteError(msg string)
	WriteString(str string)
	WriteBulkString(bulk string)
	WriteInt(num int)
	WriteArray(count int)
	WriteNull()
}

func (o redisOutput) writeTo(w replyWriter) {
	switch {
	case o.err != nil:
		w.WriteError(*o.err)
	case o.writeNil:
		w.WriteNull()
	case o.writeInt != nil:
		w.WriteInt(*o.writeInt)
	case o.writeBulk != nil:
		w.WriteBulkString(*o.writeBulk)
	case o.isArray:
		w.WriteArray(len(o.writeArray))
		for _, value := range o.writeArray {
			w.WriteBulkString(value)
		}
	default:
		w.WriteString(o.writeString)
	}
}

type redisHandler struct {
	ctx    context.Context // Bounds the recipes run by TICK.
	engine *AdminEngine
}

// newRedisHandler creates a new redisHandler.
func newRedisHandler(ctx context.Context, engine *AdminEngine) (*redisHandler, error) {
	if engine == nil {
		return nil, errors.New("expected a non-nil cache engine")
	}
	return &redisHandler{ctx: ctx, engine: engine}, nil
}

func parseTicks(arg string) (cache.Ticks, error) {
	ticks, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("value is not an integer or out of range: %w", err)
	}
	return cache.Ticks(ticks), nil
}

// statusReply renders a protobuf struct as a JSON bulk string.
func statusReply(status *structpb.Struct, err error) redisOutput {
	if err != nil {
		return writeRedisError(err)
	}
	rendered, err := protojson.Marshal(status)
	if err != nil {
		return writeRedisError(err)
	}
	return writeRedisBulk(string(rendered))
}

func (rh *redisHandler) handle(cmd redisCommand) redisOutput {
	command := strings.ToUpper(cmd.command)
	switch command {
	case "PING":
		return writeRedisString("PONG")
	case "QUIT":
		return closeRedisConnection(RedisOk)
	case "SCOPES":
		if len(cmd.args) != 0 {
			return wrongArgs(command)
		}
		return writeRedisArray(rh.engine.Scopes())
	case "ADDSCOPE": // ADDSCOPE scope [maxItems]
		if len(cmd.args) < 1 || len(cmd.args) > 2 {
			return wrongArgs(command)
		}
		maxItems := 0
		if len(cmd.args) == 2 {
			parsed, err := strconv.Atoi(cmd.args[1])
			if err != nil {
				return writeRedisError(fmt.Errorf("value is not an integer or out of range: %w", err))
			}
			maxItems = parsed
		}
		if err := rh.engine.AddScope(cmd.args[0], maxItems); err != nil {
			return writeRedisError(err)
		}
		return writeRedisString(RedisOk)
	case "DELSCOPE":
		if len(cmd.args) != 1 {
			return wrongArgs(command)
		}
		if err := rh.engine.RemoveScope(cmd.args[0]); err != nil {
			return writeRedisError(err)
		}
		return writeRedisString(RedisOk)
	case "SIZE":
		if len(cmd.args) != 1 {
			return wrongArgs(command)
		}
		size, err := rh.engine.Size(cmd.args[0])
		if err != nil {
			return writeRedisError(err)
		}
		return writeRedisInt(size)
	case "KEYS": // KEYS scope [pattern]
		if len(cmd.args) < 1 || len(cmd.args) > 2 {
			return wrongArgs(command)
		}
		keys, err := rh.engine.Keys(cmd.args[0])
		if err != nil {
			return writeRedisError(err)
		}
		if len(cmd.args) == 2 {
			if _, err := scan.CompileGlob(cmd.args[1]); err != nil {
				return writeRedisError(err)
			}
			keys = slices.Collect(scan.MatchGlob(cmd.args[1], slices.Values(keys), func(key string) string { return key }))
		}
		slices.Sort(keys)
		return writeRedisArray(keys)
	case "EXISTS": // EXISTS scope key [key ...]
		if len(cmd.args) < 2 {
			return wrongArgs(command)
		}
		existing := 0
		for _, key := range cmd.args[1:] {
			found, err := rh.engine.HasKey(cmd.args[0], key)
			if err != nil {
				return writeRedisError(err)
			}
			if found {
				existing++
			}
		}
		return writeRedisInt(existing)
	case "GET":
		if len(cmd.args) != 2 {
			return wrongArgs(command)
		}
		item, found, err := rh.engine.Get(cmd.args[0], cmd.args[1])
		if err != nil {
			return writeRedisError(err)
		}
		if !found {
			return writeRedisNil()
		}
		return writeRedisBulk(item.Value())
	case "SET": // SET scope key value [EX ticks]
		if len(cmd.args) != 3 && len(cmd.args) != 5 {
			return wrongArgs(command)
		}
		opts := cache.Forever[string, string]()
		if len(cmd.args) == 5 {
			if strings.ToUpper(cmd.args[3]) != "EX" {
				return writeRedisError(errors.New("syntax error"))
			}
			expireAfter, err := parseTicks(cmd.args[4])
			if err != nil {
				return writeRedisError(err)
			}
			opts.ExpireAfter = expireAfter
		}
		if err := rh.engine.PutWith(cmd.args[0], cmd.args[1], cmd.args[2], opts); err != nil {
			return writeRedisError(err)
		}
		return writeRedisString(RedisOk)
	case "DEL": // DEL scope key [key ...]
		if len(cmd.args) < 2 {
			return wrongArgs(command)
		}
		deletedCount := 0
		for _, key := range cmd.args[1:] {
			removed, err := rh.engine.Remove(cmd.args[0], key)
			if err != nil {
				return writeRedisError(err)
			}
			if removed {
				deletedCount++
			}
		}
		return writeRedisInt(deletedCount)
	case "CLEAR": // CLEAR scope [pattern]
		if len(cmd.args) < 1 || len(cmd.args) > 2 {
			return wrongArgs(command)
		}
		if len(cmd.args) == 2 {
			removed, err := rh.engine.RemoveMatching(cmd.args[0], cmd.args[1])
			if err != nil {
				return writeRedisError(err)
			}
			return writeRedisInt(removed)
		}
		if err := rh.engine.Clear(cmd.args[0]); err != nil {
			return writeRedisError(err)
		}
		return writeRedisString(RedisOk)
	case "FLUSHALL":
		if err := rh.engine.ClearAll(); err != nil {
			return writeRedisError(err)
		}
		return writeRedisString(RedisOk)
	case "STATS":
		if len(cmd.args) != 1 {
			return wrongArgs(command)
		}
		stats, err := rh.engine.Statistics(cmd.args[0])
		if err != nil {
			return writeRedisError(err)
		}
		return statusReply(stats.AsStruct())
	case "TICK":
		if len(cmd.args) != 0 {
			return wrongArgs(command)
		}
		return statusReply(sweepSummary(rh.engine.Tick(rh.ctx)))
	default:
		return writeRedisError(fmt.Errorf("unknown command '%s'", cmd.command))
	}
}

// sweepSummary condenses a sweep report into counters.
func sweepSummary(report cache.SweepReport[string]) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"tick":      int64(report.Tick),
		"swept":     report.Swept,
		"expired":   len(report.Expired),
		"stale":     len(report.Stale),
		"refreshed": report.Refresh.Count(cache.Refreshed),
		"evicted":   report.Refresh.Count(cache.Evicted),
		"failed":    report.Refresh.Count(cache.Failed) + len(report.Failures),
	})
}

// serveRESP converts a redcon command and writes the handler output back to the connection.
func (rh *redisHandler) serveRESP(conn redcon.Conn, cmd redcon.Command) {
	command := redisCommand{command: string(cmd.Args[0]), args: make([]string, len(cmd.Args)-1)}
	for i := 1; i < len(cmd.Args); i++ {
		command.args[i-1] = string(cmd.Args[i])
	}
	output := rh.handle(command)
	output.writeTo(conn)
	if output.closeConnection {
		if err := conn.Close(); err != nil {
			slog.Error("Failed to close admin connection.", "remote", conn.RemoteAddr(), "error", err)
		}
	}
}

// serveAdmin serves the admin port on `ln` until the context is cancelled.
func serveAdmin(ctx context.Context, ln net.Listener, engine *AdminEngine) error {
	handler, err := newRedisHandler(ctx, engine)
	if err != nil {
		return fmt.Errorf("failed to create a new redis handler: %w", err)
	}
	server := redcon.NewServerNetwork(ln.Addr().Network(), ln.Addr().String(), handler.serveRESP,
		/*accept*/ func(conn redcon.Conn) bool {
			slog.Debug("Accepted admin connection.", "remote", conn.RemoteAddr())
			return true // Accept all connections.
		},
		/*closed*/ func(conn redcon.Conn, err error) {
			if err != nil {
				slog.Warn("Admin connection closed with an error.", "remote", conn.RemoteAddr(), "error", err)
			}
		})

	serverErrSignal := make(chan error, 1)
	go func() { serverErrSignal <- server.Serve(ln) }()

	select {
	case <-ctx.Done():
		// Serve returns once its listener is closed and closes the open connections on its way out.
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return fmt.Errorf("failed to close admin listener: %w", err)
		}
		<-serverErrSignal
		return nil
	case err := <-serverErrSignal:
		if err == nil {
			err = errors.New("listener closed")
		}
		return fmt.Errorf("admin server stopped unexpectedly: %w", err)
	}
}

// RunAdminServer serves the admin port on the --admin_address flag until the context is cancelled.
func RunAdminServer(ctx context.Context, engine *AdminEngine) error {
	if *adminAddress == "" {
		return errors.New("expected a non-empty --admin_address flag")
	}
	ln, err := net.Listen("tcp", *adminAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", *adminAddress, err)
	}
	slog.Info("Admin port is listening.", "address", ln.Addr().String())
	return serveAdmin(ctx, ln, engine)
}
