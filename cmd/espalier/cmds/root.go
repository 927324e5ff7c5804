// Package cmds wires the espalier command line interface: plain cobra
// commands for mutations and one-shot views, glazed commands for the
// tabular ones.
package cmds

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-go-golems/glazed/pkg/cli"
	"github.com/go-go-golems/glazed/pkg/cmds/middlewares"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/espalier/pkg/conversation"
	"github.com/go-go-golems/espalier/pkg/export"
	"github.com/go-go-golems/espalier/pkg/service"
	"github.com/go-go-golems/espalier/pkg/store"
)

// AddToRootCommand registers every espalier subcommand.
func AddToRootCommand(rootCmd *cobra.Command) {
	rootCmd.AddCommand(
		newNewCommand(),
		newShowCommand(),
		newReplyCommand(),
		newForkCommand(),
		newSwitchCommand(),
		newRemoveCommand(),
		newUndoCommand(),
		newDeleteCommand(),
		newRenameCommand(),
		newGenerateCommand(),
		newImportChatGPTCommand(),
		newExportCommand(),
		newSchemaCommand(),
		newBrowseCommand(),
	)

	listCmd, err := NewListCommand()
	cobra.CheckErr(err)
	listCobraCmd, err := cli.BuildCobraCommandFromGlazeCommand(listCmd,
		cli.WithCobraMiddlewaresFunc(getMiddlewares),
	)
	cobra.CheckErr(err)

	statsCmd, err := NewStatsCommand()
	cobra.CheckErr(err)
	statsCobraCmd, err := cli.BuildCobraCommandFromGlazeCommand(statsCmd,
		cli.WithCobraMiddlewaresFunc(getMiddlewares),
	)
	cobra.CheckErr(err)

	layoutCmd, err := NewLayoutCommand()
	cobra.CheckErr(err)
	layoutCobraCmd, err := cli.BuildCobraCommandFromGlazeCommand(layoutCmd,
		cli.WithCobraMiddlewaresFunc(getMiddlewares),
	)
	cobra.CheckErr(err)

	logCmd, err := NewLogCommand()
	cobra.CheckErr(err)
	logCobraCmd, err := cli.BuildCobraCommandFromGlazeCommand(logCmd,
		cli.WithCobraMiddlewaresFunc(getMiddlewares),
	)
	cobra.CheckErr(err)

	rootCmd.AddCommand(listCobraCmd, statsCobraCmd, layoutCobraCmd, logCobraCmd)
}

func getMiddlewares(
	_ *cli.GlazedCommandSettings,
	cmd *cobra.Command,
	args []string,
) ([]middlewares.Middleware, error) {
	return []middlewares.Middleware{
		middlewares.ParseFromCobraCommand(cmd),
		middlewares.GatherArguments(args),
		middlewares.SetFromDefaults(),
	}, nil
}

func dataDir() (string, error) {
	if dir := viper.GetString("data-dir"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to locate the home directory")
	}
	return filepath.Join(home, ".espalier"), nil
}

func openStore() (store.Store, error) {
	kind := viper.GetString("store")
	switch kind {
	case "memory":
		return store.NewInMemoryStore(), nil
	case "", "file":
		dir, err := dataDir()
		if err != nil {
			return nil, err
		}
		return store.NewFileStore(filepath.Join(dir, "conversations"))
	case "sqlite":
		dir, err := dataDir()
		if err != nil {
			return nil, err
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrapf(err, "failed to create data directory %s", dir)
		}
		return store.NewSQLiteStore(filepath.Join(dir, "espalier.db"))
	default:
		return nil, errors.Errorf("unknown store backend %q (want memory, file, or sqlite)", kind)
	}
}

// openService builds the conversation service over the configured store.
// The returned cleanup drains the service and closes the store.
func openService(options ...service.Option) (*service.ConversationService, func(), error) {
	st, err := openStore()
	if err != nil {
		return nil, nil, err
	}

	if viper.GetString("store") != "memory" {
		dir, err := dataDir()
		if err == nil {
			ps, err := store.NewPresentationStore(filepath.Join(dir, "presentation"))
			if err != nil {
				log.Warn().Err(err).Msg("presentation cache unavailable, positions will not persist")
			} else {
				options = append(options, service.WithPresentationStore(ps))
			}
		}
	}

	if viper.GetBool("autosave") {
		dir := viper.GetString("autosave-dir")
		options = append(options, service.WithAutosaver(export.NewAutosaver(dir, viper.GetString("autosave-format"))))
	}

	svc, err := service.New(st, options...)
	if err != nil {
		_ = st.Close()
		return nil, nil, err
	}

	cleanup := func() {
		if err := svc.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close the conversation service")
		}
		if err := st.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close the conversation store")
		}
	}
	return svc, cleanup, nil
}

// resolveConversation accepts a full conversation ID, a unique ID prefix, or
// an exact title.
func resolveConversation(ctx context.Context, svc *service.ConversationService, arg string) (conversation.ConversationID, error) {
	if id, err := conversation.ParseConversationID(arg); err == nil {
		return id, nil
	}

	infos, err := svc.List(ctx, "")
	if err != nil {
		return conversation.NullConversation, err
	}

	var matches []store.ConversationInfo
	for _, info := range infos {
		if strings.HasPrefix(info.ID.String(), arg) || strings.EqualFold(info.Title, arg) {
			matches = append(matches, info)
		}
	}
	switch len(matches) {
	case 0:
		return conversation.NullConversation, errors.Errorf("no conversation matches %q", arg)
	case 1:
		return matches[0].ID, nil
	default:
		ids := make([]string, 0, len(matches))
		for _, m := range matches {
			ids = append(ids, m.ID.String()[:8])
		}
		return conversation.NullConversation, errors.Errorf("%q is ambiguous, matches %s", arg, strings.Join(ids, ", "))
	}
}

// resolveNode accepts a full node ID, a unique ID prefix, or the keyword
// "leaf" for the tip of the active path.
func resolveNode(conv *conversation.Conversation, arg string) (conversation.NodeID, error) {
	if arg == "" || arg == "leaf" {
		if leaf := conv.ActiveLeaf(); leaf != nil {
			return leaf.ID, nil
		}
		return conversation.NullNode, errors.Errorf("conversation %s has no messages", conv.ID)
	}

	if id, err := conversation.ParseNodeID(arg); err == nil {
		return id, nil
	}

	var matches []conversation.NodeID
	for _, msg := range conv.AllMessages() {
		if strings.HasPrefix(msg.ID.String(), arg) {
			matches = append(matches, msg.ID)
		}
	}
	switch len(matches) {
	case 0:
		return conversation.NullNode, errors.Errorf("no message in %s matches %q", conv.ID, arg)
	case 1:
		return matches[0], nil
	default:
		ids := make([]string, 0, len(matches))
		for _, m := range matches {
			ids = append(ids, m.String()[:8])
		}
		return conversation.NullNode, errors.Errorf("%q is ambiguous, matches %s", arg, strings.Join(ids, ", "))
	}
}

// loadConversation resolves the argument and fetches the record.
func loadConversation(ctx context.Context, svc *service.ConversationService, arg string) (*conversation.Conversation, error) {
	id, err := resolveConversation(ctx, svc, arg)
	if err != nil {
		return nil, err
	}
	conv, ok, err := svc.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Errorf("conversation %s not found", id)
	}
	return conv, nil
}

func auditPath() (string, error) {
	dir, err := dataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "journal.jsonl"), nil
}

// flushAudit appends the service's in-memory journal entries for the
// conversation to the on-disk mutation log, so later invocations of
// `espalier log` can show them.
func flushAudit(svc *service.ConversationService, id conversation.ConversationID) {
	entries := svc.Journal(id)
	if len(entries) == 0 {
		return
	}

	path, err := auditPath()
	if err != nil {
		log.Warn().Err(err).Msg("failed to locate the mutation log")
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Warn().Err(err).Msg("failed to create the mutation log directory")
		return
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		log.Warn().Err(err).Msg("failed to open the mutation log")
		return
	}
	defer func() {
		_ = f.Close()
	}()

	enc := json.NewEncoder(f)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			log.Warn().Err(err).Msg("failed to append to the mutation log")
			return
		}
	}
}

// undoSlot is the on-disk twin of the service's single undo slot. The CLI
// arms it before a cascade removal so the next invocation can restore the
// record; the newest removal wins.
type undoSlot struct {
	Conversation *conversation.Conversation `json:"conversation"`
	RemovedAt    time.Time                  `json:"removedAt"`
}

func undoSlotPath() (string, error) {
	dir, err := dataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "undo-slot.json"), nil
}

func armUndoSlot(conv *conversation.Conversation) {
	path, err := undoSlotPath()
	if err != nil {
		log.Warn().Err(err).Msg("failed to locate the undo slot")
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Warn().Err(err).Msg("failed to create the undo slot directory")
		return
	}
	data, err := json.Marshal(undoSlot{Conversation: conv, RemovedAt: time.Now()})
	if err != nil {
		log.Warn().Err(err).Msg("failed to encode the undo slot")
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Warn().Err(err).Msg("failed to write the undo slot")
	}
}

// takeUndoSlot removes and returns the slot when it holds the given
// conversation. A slot belonging to another conversation stays armed.
func takeUndoSlot(id conversation.ConversationID) (*conversation.Conversation, bool) {
	path, err := undoSlotPath()
	if err != nil {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	var slot undoSlot
	if err := json.Unmarshal(data, &slot); err != nil {
		log.Warn().Err(err).Msg("undo slot is corrupt, discarding it")
		_ = os.Remove(path)
		return nil, false
	}
	if slot.Conversation == nil || slot.Conversation.ID != id {
		return nil, false
	}
	_ = os.Remove(path)
	return slot.Conversation, true
}

func clearUndoSlot(id conversation.ConversationID) {
	path, err := undoSlotPath()
	if err != nil {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var slot undoSlot
	if err := json.Unmarshal(data, &slot); err != nil {
		return
	}
	if slot.Conversation != nil && slot.Conversation.ID == id {
		_ = os.Remove(path)
	}
}

// readAudit loads the on-disk mutation log. A missing file is an empty log.
func readAudit() ([]service.JournalEntry, error) {
	path, err := auditPath()
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to open the mutation log")
	}
	defer func() {
		_ = f.Close()
	}()

	var out []service.JournalEntry
	dec := json.NewDecoder(f)
	for {
		var e service.JournalEntry
		if err := dec.Decode(&e); err == io.EOF {
			break
		} else if err != nil {
			log.Warn().Err(err).Msg("mutation log is truncated, showing the entries read so far")
			break
		}
		out = append(out, e)
	}
	return out, nil
}
