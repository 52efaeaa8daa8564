package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/onsol-labs/gpl/internal/hashing"
	"github.com/onsol-labs/gpl/internal/session"
	"github.com/onsol-labs/gpl/pkg/client"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

var (
	serviceURL string
	cfgFile    string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "gpl",
	Short: "GPL compressed-state CLI",
	Long: `gpl is the command-line interface for the GPL compressed state
synchronization service.

It creates mirrored Merkle trees, appends content-addressed leaves,
checks mirror consistency, and manages delegated-signing sessions.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.gpl")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serviceURL == "" {
			serviceURL = viper.GetString("service_url")
		}
		if serviceURL == "" {
			serviceURL = "http://localhost:8080"
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.gpl/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serviceURL, "service", "", "gpld service URL (default http://localhost:8080)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(treeCmd)
	rootCmd.AddCommand(sessionCmd)

	treeCmd.AddCommand(treeCreateCmd)
	treeCmd.AddCommand(treeRootCmd)
	treeCmd.AddCommand(treeAppendCmd)
	treeCmd.AddCommand(treeCheckCmd)

	treeCreateCmd.Flags().String("id", "", "tree id (32 bytes hex, random when omitted)")
	treeCreateCmd.Flags().Uint("depth", 14, "tree depth (capacity 2^depth leaves)")
	treeCreateCmd.Flags().Uint("buffer", 64, "concurrent-update buffer size")

	treeAppendCmd.Flags().Uint64("index", 0, "leaf index")
	treeAppendCmd.Flags().String("seed", "", "entity seed string")
	treeAppendCmd.Flags().String("payload", "", "canonical serialized payload")

	sessionCmd.AddCommand(sessionCreateCmd)
	sessionCmd.AddCommand(sessionRevokeCmd)

	sessionCreateCmd.Flags().String("owner-key", "", "path to the owner's ed25519 seed file")
	sessionCreateCmd.Flags().String("scope", "", "target scope address (32 bytes hex)")
	sessionCreateCmd.Flags().Duration("expires-in", 0, "session lifetime (0 = no expiry)")
	sessionCreateCmd.Flags().Bool("no-owner-sig", false, "skip the owner co-signature requirement")

	sessionRevokeCmd.Flags().String("owner-key", "", "path to the owner's ed25519 seed file")
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the gpl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("gpl", version)
	},
}

var keygenCmd = &cobra.Command{
	Use:   "keygen <file>",
	Short: "Generate an ed25519 keypair and write its seed to a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return fmt.Errorf("generate key: %w", err)
		}
		seed := hex.EncodeToString(priv.Seed())
		if err := os.WriteFile(args[0], []byte(seed+"\n"), 0o600); err != nil {
			return fmt.Errorf("write key file: %w", err)
		}
		fmt.Println("public key:", hex.EncodeToString(pub))
		return nil
	},
}

var treeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Manage mirrored Merkle trees",
}

var treeCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new tree",
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		depth, _ := cmd.Flags().GetUint("depth")
		buffer, _ := cmd.Flags().GetUint("buffer")

		res, err := client.New(serviceURL).CreateTree(cmd.Context(), id, depth, buffer)
		if err != nil {
			return err
		}
		fmt.Println("tree id:       ", res.TreeID)
		fmt.Println("config address:", res.ConfigAddress)
		fmt.Println("root:          ", res.Root)
		return nil
	},
}

var treeRootCmd = &cobra.Command{
	Use:   "root <tree-id>",
	Short: "Print a tree's authoritative root",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := client.New(serviceURL).Root(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println(root)
		return nil
	},
}

var treeAppendCmd = &cobra.Command{
	Use:   "append <tree-id>",
	Short: "Build and write a content-addressed leaf",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, _ := cmd.Flags().GetUint64("index")
		seed, _ := cmd.Flags().GetString("seed")
		payload, _ := cmd.Flags().GetString("payload")
		if seed == "" {
			return fmt.Errorf("--seed is required")
		}

		res, err := client.New(serviceURL).AppendLeaf(cmd.Context(), args[0], index, []byte(seed), []byte(payload))
		if err != nil {
			return err
		}
		fmt.Println("leaf digest:", res.Leaf.Digest)
		fmt.Println("entity id:  ", res.Leaf.ID)
		fmt.Println("seq:        ", res.Seq)
		fmt.Println("root:       ", res.Root)
		return nil
	},
}

var treeCheckCmd = &cobra.Command{
	Use:   "check <tree-id>",
	Short: "Compare the authoritative root against the mirror root",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := client.New(serviceURL).CheckConsistency(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Println("match:             ", res.Match)
		fmt.Println("authoritative root:", res.AuthoritativeRoot)
		fmt.Println("mirror root:       ", res.MirrorRoot)
		if !res.Match {
			return fmt.Errorf("roots diverged, mirror must be resynchronized")
		}
		return nil
	},
}

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage delegated-signing sessions",
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a session bound to an owner and a target scope",
	RunE: func(cmd *cobra.Command, args []string) error {
		keyPath, _ := cmd.Flags().GetString("owner-key")
		scopeHex, _ := cmd.Flags().GetString("scope")
		expiresIn, _ := cmd.Flags().GetDuration("expires-in")
		noOwnerSig, _ := cmd.Flags().GetBool("no-owner-sig")

		if keyPath == "" || scopeHex == "" {
			return fmt.Errorf("--owner-key and --scope are required")
		}
		ownerPriv, err := loadKey(keyPath)
		if err != nil {
			return err
		}
		ownerPub := ownerPriv.Public().(ed25519.PublicKey)

		scope, err := parseScope(scopeHex)
		if err != nil {
			return err
		}

		// Fresh ephemeral key for this session.
		signerPub, signerPriv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return fmt.Errorf("generate session key: %w", err)
		}

		var expiresAt *time.Time
		if expiresIn > 0 {
			t := time.Now().Add(expiresIn).UTC()
			expiresAt = &t
		}

		msg := session.CreationMessage(ownerPub, signerPub, scope, expiresAt)
		req := client.CreateSessionRequest{
			Owner:                 ownerPub,
			Signer:                signerPub,
			TargetScope:           scope.String(),
			RequireOwnerSignature: !noOwnerSig,
			ExpiresAt:             expiresAt,
			SignerSig:             ed25519.Sign(signerPriv, msg),
		}
		if !noOwnerSig {
			req.OwnerSig = ed25519.Sign(ownerPriv, msg)
		}

		res, err := client.New(serviceURL).CreateSession(cmd.Context(), req)
		if err != nil {
			return err
		}
		fmt.Println("handle:     ", res.Handle)
		fmt.Println("session key:", hex.EncodeToString(signerPriv.Seed()))
		if res.ExpiresAt != "" {
			fmt.Println("expires at: ", res.ExpiresAt)
		}
		if res.Token != "" {
			fmt.Println("token:      ", res.Token)
		}
		return nil
	},
}

var sessionRevokeCmd = &cobra.Command{
	Use:   "revoke <handle>",
	Short: "Revoke a session (owner only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keyPath, _ := cmd.Flags().GetString("owner-key")
		if keyPath == "" {
			return fmt.Errorf("--owner-key is required")
		}
		ownerPriv, err := loadKey(keyPath)
		if err != nil {
			return err
		}

		handle, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid session handle: %w", err)
		}
		sig := ed25519.Sign(ownerPriv, session.RevocationMessage(handle))

		ownerPub := ownerPriv.Public().(ed25519.PublicKey)
		if err := client.New(serviceURL).RevokeSession(cmd.Context(), args[0], ownerPub, sig); err != nil {
			return err
		}
		fmt.Println("revoked")
		return nil
	},
}

func parseScope(s string) (hashing.Digest, error) {
	scope, err := hashing.Parse(s)
	if err != nil {
		return hashing.Digest{}, fmt.Errorf("scope must be 32 bytes of hex: %w", err)
	}
	return scope, nil
}

// loadKey reads a hex-encoded ed25519 seed file written by keygen.
func loadKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	seed, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("key file %s does not contain a hex ed25519 seed", path)
	}
	return ed25519.NewKeyFromSeed(seed), nil
}
