package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/tapping/internal/config"
	"github.com/kalambet/tapping/internal/contact"
	"github.com/kalambet/tapping/internal/directory"
	"github.com/kalambet/tapping/internal/docimport"
	"github.com/kalambet/tapping/internal/ollama"
	"github.com/kalambet/tapping/internal/optical"
	"github.com/kalambet/tapping/internal/scan"
	"github.com/kalambet/tapping/internal/storage"
	"github.com/kalambet/tapping/internal/tag"
)

// localEnv is the state commands that work on the data directory directly
// share.
type localEnv struct {
	cfg   config.Config
	store *storage.Store
	dir   *directory.Directory
}

func openLocal() (*localEnv, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	setupLogging(cfg)
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return &localEnv{cfg: cfg, store: store, dir: directory.New(store)}, nil
}

func (e *localEnv) Close() {
	if err := e.store.Close(); err != nil {
		printWarning("closing storage: %v", err)
	}
}

// runLocalScan runs one scan in-process and prints its progress.
func (e *localEnv) runLocalScan(ctx context.Context, req scan.Request) (contact.Contact, error) {
	deps, err := newScanDeps(ctx, e.cfg, e.store, e.dir)
	if err != nil {
		return contact.Contact{}, err
	}
	ctrl := scan.NewController(deps, func(u scan.Update) {
		if u.State == scan.StateLoading {
			printStep("%s", u.Step)
		}
	})
	defer ctrl.Close()
	return ctrl.Run(ctx, req)
}

func scanErrorMessage(err error) error {
	f, ok := scan.AsFailure(err)
	if !ok {
		return err
	}
	if f.Contact != nil {
		printWarning("contact %s was built but not saved; retry with: tapping contacts save", f.Contact.ID)
		if data, mErr := json.Marshal(f.Contact); mErr == nil {
			fmt.Fprintln(os.Stdout, string(data))
		}
	}
	return fmt.Errorf("%s (%s)", f.Reason, f.Kind)
}

// --- scan ---

var scanCmd = &cobra.Command{
	Use:   "scan [data]",
	Short: "Scan a payload into a stored contact",
	Long: `Scan a payload into a stored contact.

Examples:
  tapping scan "https://tapping.app/profile/john-doe"
  tapping scan --intent qr "$(cat card.vcf)"
  tapping scan --intent paper-card --image ./card.jpg
  tapping scan --intent nfc`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		intentStr, _ := cmd.Flags().GetString("intent")
		imagePath, _ := cmd.Flags().GetString("image")

		intent, ok := contact.ParseIntent(intentStr)
		if !ok {
			return fmt.Errorf("unknown intent %q", intentStr)
		}
		req := scan.Request{Intent: intent, Requester: "cli"}
		if len(args) == 1 {
			req.Data = args[0]
		}

		switch {
		case intent.IsOptical():
			if imagePath == "" {
				return fmt.Errorf("--image is required for %s scans", intent)
			}
			img, err := readImage(imagePath)
			if err != nil {
				return err
			}
			req.Image = img
		case intent == contact.IntentTag:
			if req.Data != "" {
				req.Tag = tag.Decode(req.Data)
			}
		default:
			if strings.TrimSpace(req.Data) == "" {
				return fmt.Errorf("scan data is required for %s scans", intent)
			}
		}

		env, err := openLocal()
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := env.runLocalScan(cmd.Context(), req)
		if err != nil {
			return scanErrorMessage(err)
		}
		printSuccess("Saved %s (%s)", c.Name, c.ID)
		return printJSON(cmd.OutOrStdout(), c)
	},
}

func readImage(path string) (optical.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return optical.Image{}, fmt.Errorf("reading image: %w", err)
	}
	if len(data) == 0 {
		return optical.Image{}, fmt.Errorf("image %s is empty", path)
	}
	return optical.Image{Data: data, MIMEType: http.DetectContentType(data)}, nil
}

func init() {
	scanCmd.Flags().String("intent", "qr", "scan intent: qr, paper-card, badge, nfc, document")
	scanCmd.Flags().String("image", "", "image file for paper-card and badge scans")
}

// --- import ---

var importCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a contact from a PDF, vCard or text document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := docimport.Load(args[0])
		if err != nil {
			return err
		}
		printStep("Read %s document %s", doc.Format, doc.Path)

		env, err := openLocal()
		if err != nil {
			return err
		}
		defer env.Close()

		c, err := env.runLocalScan(cmd.Context(), scan.Request{
			Intent:    contact.IntentDocument,
			Data:      doc.Text,
			Requester: "cli:import",
		})
		if err != nil {
			return scanErrorMessage(err)
		}
		printSuccess("Imported %s (%s)", c.Name, c.ID)
		return printJSON(cmd.OutOrStdout(), c)
	},
}

// --- tag ---

var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "Read, write and inspect proximity tags",
}

var tagDecodeCmd = &cobra.Command{
	Use:   "decode <payload>",
	Short: "Decode a tag payload without storing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d := tag.Decode(args[0])
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"type":    d.Type(),
			"content": tag.Content(d),
		})
	},
}

var tagEncodeCmd = &cobra.Command{
	Use:   "encode",
	Short: "Print the payload that would be written to a tag",
	Long: `Print the payload that would be written to a tag.

Examples:
  tapping tag encode --type url --data https://example.com
  tapping tag encode --type contact --data '{"email":"me@example.com"}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, v, err := tagValueFromFlags(cmd)
		if err != nil {
			return err
		}
		if typ == tag.TypeURL {
			fmt.Fprintln(cmd.OutOrStdout(), v)
			return nil
		}
		text, err := tag.EncodeEnvelope(typ, v)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), text)
		return nil
	},
}

// tagValueFromFlags reads --type and --data. Profile data may also be
// given as --profile <id> when writing.
func tagValueFromFlags(cmd *cobra.Command) (tag.Type, any, error) {
	typeStr, _ := cmd.Flags().GetString("type")
	data, _ := cmd.Flags().GetString("data")

	typ, err := tag.ParseType(typeStr)
	if err != nil {
		return "", nil, err
	}
	if data == "" {
		return "", nil, fmt.Errorf("--data is required")
	}
	switch typ {
	case tag.TypeProfile:
		var p contact.Profile
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return "", nil, fmt.Errorf("invalid profile JSON: %w", err)
		}
		return typ, p, nil
	case tag.TypeContact:
		var info contact.ContactInfo
		if err := json.Unmarshal([]byte(data), &info); err != nil {
			return "", nil, fmt.Errorf("invalid contact JSON: %w", err)
		}
		return typ, info, nil
	}
	if _, err := url.ParseRequestURI(data); err != nil {
		return "", nil, fmt.Errorf("invalid url: %w", err)
	}
	return typ, data, nil
}

var tagWriteCmd = &cobra.Command{
	Use:   "write",
	Short: "Write a profile, contact info or URL to the tag device",
	Long: `Write a profile, contact info or URL to the tag device.

Examples:
  tapping tag write --profile john-doe
  tapping tag write --type url --data https://example.com/me`,
	RunE: func(cmd *cobra.Command, args []string) error {
		profileID, _ := cmd.Flags().GetString("profile")

		env, err := openLocal()
		if err != nil {
			return err
		}
		defer env.Close()

		hw := &tag.FileHardware{Path: env.cfg.Tag.DevicePath}
		if err := hw.Ensure(); err != nil {
			return fmt.Errorf("preparing tag device: %w", err)
		}
		session := tag.NewSession(hw, env.store, tag.SessionOptions{Device: env.cfg.Tag.DeviceName})

		var tagID string
		if profileID != "" {
			p, err := env.store.GetProfile(profileID)
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("profile %s not found, publish it first", profileID)
			}
			if err != nil {
				return err
			}
			tagID, err = session.WriteProfile(cmd.Context(), p)
			if err != nil {
				return err
			}
		} else {
			typ, v, err := tagValueFromFlags(cmd)
			if err != nil {
				return err
			}
			switch typ {
			case tag.TypeProfile:
				tagID, err = session.WriteProfile(cmd.Context(), v.(contact.Profile))
			case tag.TypeContact:
				tagID, err = session.WriteContactInfo(cmd.Context(), v.(contact.ContactInfo))
			default:
				tagID, err = session.WriteURL(cmd.Context(), v.(string))
			}
			if err != nil {
				return err
			}
		}
		printSuccess("Wrote tag %s", tagID)
		return nil
	},
}

var tagReadCmd = &cobra.Command{
	Use:   "read",
	Short: "Read and decode the tag device without storing a contact",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openLocal()
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := newTagSession(env.cfg, env.store).Read(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"tag_id":  res.TagID,
			"type":    res.Payload.Type(),
			"content": tag.Content(res.Payload),
		})
	},
}

var tagLogCmd = &cobra.Command{
	Use:   "log [tag-id]",
	Short: "Show the tag read/write audit trail",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		var tagID string
		if len(args) == 1 {
			tagID = args[0]
		}

		env, err := openLocal()
		if err != nil {
			return err
		}
		defer env.Close()

		entries, err := env.store.ListTagInteractions(tagID, limit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No tag interactions found.")
			return nil
		}
		for _, e := range entries {
			status := colorize(colorGreen, "ok")
			if e.Error != "" {
				status = colorize(colorRed, truncate(e.Error, 60))
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-5s  %-8s  %s  %s\n",
				e.CreatedAt.Local().Format(time.DateTime), e.Action, e.PayloadType, colorize(colorCyan, e.TagID), status)
		}
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{tagEncodeCmd, tagWriteCmd} {
		c.Flags().String("type", "url", "payload type: profile, contact, url")
		c.Flags().String("data", "", "payload: JSON for profile and contact, the URL for url")
	}
	tagWriteCmd.Flags().String("profile", "", "write the published profile with this id")
	tagLogCmd.Flags().Int("limit", 20, "maximum number of entries")

	tagCmd.AddCommand(tagDecodeCmd)
	tagCmd.AddCommand(tagEncodeCmd)
	tagCmd.AddCommand(tagWriteCmd)
	tagCmd.AddCommand(tagReadCmd)
	tagCmd.AddCommand(tagLogCmd)
}

// --- contacts ---

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "Manage stored contacts through the running server",
}

var contactsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored contacts, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/contacts?limit=%d", limit))
		if err != nil {
			return err
		}
		var contacts []contact.Contact
		if err := decodeJSON(resp, &contacts); err != nil {
			return err
		}
		if len(contacts) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No contacts found.")
			return nil
		}
		for _, c := range contacts {
			fmt.Fprintln(cmd.OutOrStdout(), contactLine(c))
		}
		return nil
	},
}

func contactLine(c contact.Contact) string {
	id := c.ID
	if len(id) > 8 {
		id = id[:8]
	}
	line := colorize(colorCyan, id) + "  " + truncate(c.Name, 40)
	if c.ContactInfo.Company != "" {
		line += " (" + c.ContactInfo.Company + ")"
	}
	if c.MeetingContext != "" {
		line += "  " + c.MeetingContext
	}
	return line
}

var contactsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single contact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/contacts/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var c contact.Contact
		if err := decodeJSON(resp, &c); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), c)
	},
}

var contactsExportCmd = &cobra.Command{
	Use:   "export <id>",
	Short: "Export a contact as a vCard",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/contacts/"+url.PathEscape(args[0])+"/vcard")
		if err != nil {
			return err
		}
		data, err := readBody(resp)
		if err != nil {
			return err
		}
		if output == "" {
			_, err := cmd.OutOrStdout().Write(data)
			return err
		}
		if err := os.WriteFile(output, data, 0o644); err != nil {
			return fmt.Errorf("writing vcard: %w", err)
		}
		printSuccess("vCard written to %s", output)
		return nil
	},
}

var contactsSaveCmd = &cobra.Command{
	Use:   "save",
	Short: "Store a contact JSON document read from stdin (retries a failed save)",
	RunE: func(cmd *cobra.Command, args []string) error {
		var c contact.Contact
		if err := json.NewDecoder(cmd.InOrStdin()).Decode(&c); err != nil {
			return fmt.Errorf("reading contact JSON: %w", err)
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/contacts", c)
		if err != nil {
			return err
		}
		var saved contact.Contact
		if err := decodeJSON(resp, &saved); err != nil {
			return err
		}
		printSuccess("Saved %s (%s)", saved.Name, saved.ID)
		return nil
	},
}

var contactsTagCmd = &cobra.Command{
	Use:   "tag <id> <tag>...",
	Short: "Replace a contact's tags",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		tags := parseTags(args[1:])
		resp, err := client.put(cmd.Context(), "/contacts/"+url.PathEscape(args[0])+"/tags", map[string]any{"tags": tags})
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Tagged %s with %s", args[0], strings.Join(tags, ", "))
		return nil
	},
}

// parseTags splits comma-separated arguments and drops blanks. Duplicates
// are kept.
func parseTags(args []string) []string {
	tags := []string{}
	for _, a := range args {
		for _, t := range strings.Split(a, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tags = append(tags, t)
			}
		}
	}
	return tags
}

var contactsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a contact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/contacts/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Deleted %s", args[0])
		return nil
	},
}

func init() {
	contactsListCmd.Flags().Int("limit", 20, "maximum number of contacts to list")
	contactsExportCmd.Flags().String("output", "", "output file path (default: stdout)")

	contactsCmd.AddCommand(contactsListCmd)
	contactsCmd.AddCommand(contactsShowCmd)
	contactsCmd.AddCommand(contactsExportCmd)
	contactsCmd.AddCommand(contactsSaveCmd)
	contactsCmd.AddCommand(contactsTagCmd)
	contactsCmd.AddCommand(contactsDeleteCmd)
}

// --- profiles ---

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "Manage first-party profiles that profile links resolve to",
}

var profilesSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Publish the sample profiles",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openLocal()
		if err != nil {
			return err
		}
		defer env.Close()

		for _, p := range directory.DemoProfiles {
			if err := env.dir.Publish(p); err != nil {
				return err
			}
			printSuccess("Published %s (%s)", p.Name, p.ID)
		}
		return nil
	},
}

var profilesShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a published profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := openLocal()
		if err != nil {
			return err
		}
		defer env.Close()

		p, err := env.store.GetProfile(args[0])
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("profile %s not found", args[0])
		}
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), p)
	},
}

var profilesPublishCmd = &cobra.Command{
	Use:   "publish <file>",
	Short: "Publish a profile from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var p contact.Profile
		if err := json.Unmarshal(data, &p); err != nil {
			return fmt.Errorf("invalid profile JSON: %w", err)
		}
		if p.ID == "" || p.Name == "" {
			return fmt.Errorf("profile id and name are required")
		}
		p.IsActive = true

		env, err := openLocal()
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.dir.Publish(p); err != nil {
			return err
		}
		printSuccess("Published %s (%s)", p.Name, p.ID)
		return nil
	},
}

func init() {
	profilesCmd.AddCommand(profilesSeedCmd)
	profilesCmd.AddCommand(profilesShowCmd)
	profilesCmd.AddCommand(profilesPublishCmd)
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show tapping system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	httpClient := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := httpClient.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Optical backend", "%s", cfg.Optical.Backend)
	switch cfg.Optical.Backend {
	case config.BackendOllama:
		oc := ollama.New(cfg.Ollama.BaseURL, ollama.WithHTTPClient(httpClient))
		if !oc.IsRunning(ctx) {
			printStatus("Ollama", "not running")
		} else if oc.HasModel(ctx, cfg.Optical.Model) {
			printStatus("Ollama", "running at %s, model %s ready", cfg.Ollama.BaseURL, cfg.Optical.Model)
		} else {
			printStatus("Ollama", "running at %s, model %s missing", cfg.Ollama.BaseURL, cfg.Optical.Model)
		}
	case config.BackendGemini:
		printStatus("Gemini model", "%s", cfg.Gemini.Model)
	case config.BackendSimulated:
		printStatus("Simulated failure rate", "%.0f%%", cfg.Optical.FailureRate*100)
	}

	if running {
		client := &apiClient{baseURL: serverURL, token: cfg.API.Token, httpClient: httpClient}
		if resp, err := client.get(ctx, "/contacts?limit=1"); err == nil {
			resp.Body.Close()
			if total := resp.Header.Get("X-Total-Count"); resp.StatusCode == http.StatusOK && total != "" {
				printStatus("Contacts", "%s", total)
			}
		}
	}

	printStatus("Tag device", "%s", cfg.Tag.DevicePath)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
