package cli

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/nimbusfs/httpd/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Publish a directory tree over HTTP",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := filepath.Abs(viper.GetString("root"))
		if err != nil {
			return fmt.Errorf("resolving hosted root: %w", err)
		}
		if info, err := os.Stat(root); err != nil || !info.IsDir() {
			return fmt.Errorf("hosted root %s is not a directory", root)
		}

		cfg := server.Config{
			HostedRoot:        root,
			WritesEnabled:     viper.GetBool("writes"),
			WebDAVEnabled:     viper.GetBool("webdav"),
			FollowSymlinks:    viper.GetBool("follow_symlinks"),
			SandboxSymlinks:   viper.GetBool("sandbox_symlinks"),
			GenerateListings:  viper.GetBool("listings"),
			CheckIndices:      viper.GetBool("check_indices"),
			MimeOverrides:     parseMimeOverrides(viper.GetStringSlice("mime")),
			AdditionalHeaders: parseHeaders(viper.GetStringSlice("header")),
			TempDir:           viper.GetString("temp_dir"),
			CacheFSLimit:      parseSizeBytes(viper.GetString("cache_fs_limit")),
			CacheGenLimit:     parseSizeBytes(viper.GetString("cache_gen_limit")),
			CacheTTL:          viper.GetDuration("cache_ttl"),
		}
		for _, row := range viper.GetStringSlice("proxy") {
			if cidr, header, ok := strings.Cut(row, "="); ok {
				cfg.Proxies.AddProxy(cidr, header)
			}
		}
		for _, row := range viper.GetStringSlice("proxy_redir") {
			if cidr, header, ok := strings.Cut(row, "="); ok {
				cfg.Proxies.AddProxyRedir(cidr, header)
			}
		}

		store, err := openUserStore()
		if err != nil {
			return fmt.Errorf("loading credential store: %w", err)
		}

		srv := server.New(cfg, log)

		globalUser := viper.GetString("global_user")
		rebuildPolicy := func() {
			policy := server.PolicyFromStore(store, globalUser)
			if auth := viper.GetString("auth"); auth != "" {
				username, password, hasPassword := strings.Cut(auth, ":")
				cred := &server.Credential{Username: username}
				if hasPassword {
					cred.Password = &password
				}
				policy.Global = cred
			}
			srv.SetAuthPolicy(policy)
		}
		rebuildPolicy()

		stop := make(chan struct{})
		if err := store.Watch(stop, log, rebuildPolicy); err != nil {
			log.Warn("credential store watch unavailable", zap.Error(err))
		}

		ln, err := server.ListenRange(viper.GetString("addr"),
			uint16(viper.GetUint("port-from")), uint16(viper.GetUint("port-to")))
		if err != nil {
			return err
		}
		if cert, key := viper.GetString("tls_cert"), viper.GetString("tls_key"); cert != "" && key != "" {
			tlsCfg, err := server.LoadTLSConfig(cert, key)
			if err != nil {
				return fmt.Errorf("loading TLS credentials: %w", err)
			}
			ln = tls.NewListener(ln, tlsCfg)
		}

		log.Info("serving",
			zap.String("root", root),
			zap.String("addr", ln.Addr().String()),
			zap.Bool("writes", cfg.WritesEnabled),
			zap.Bool("webdav", cfg.WebDAVEnabled),
		)

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Serve(ln) }()

		select {
		case err := <-errCh:
			close(stop)
			return err
		case <-sig:
		}
		close(stop)
		log.Info("shutting down")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		log.Info("stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("root", "r", ".", "directory tree to publish")
	serveCmd.Flags().String("addr", "0.0.0.0", "address to bind")
	serveCmd.Flags().Uint16("port-from", 8000, "first port to try binding")
	serveCmd.Flags().Uint16("port-to", 9999, "last port to try binding")
	serveCmd.Flags().BoolP("writes", "w", false, "allow PUT and DELETE")
	serveCmd.Flags().Bool("webdav", false, "enable WebDAV level-1 methods")
	serveCmd.Flags().Bool("follow-symlinks", true, "follow symlinks when resolving paths")
	serveCmd.Flags().Bool("sandbox-symlinks", false, "hide symlinks whose target escapes the hosted root")
	serveCmd.Flags().Bool("listings", true, "generate HTML directory listings")
	serveCmd.Flags().BoolP("check-indices", "i", true, "serve index.{html,htm,shtml} instead of a listing")
	serveCmd.Flags().String("temp-dir", filepath.Join(os.TempDir(), "atlas"), "scratch directory for uploads and the encoding cache (empty disables the cache; uploads then stage in ./writes)")
	serveCmd.Flags().String("cache-fs-limit", "1G", "size cap of the on-disk encoding cache")
	serveCmd.Flags().String("cache-gen-limit", "128M", "size cap of the in-memory generated-response cache")
	serveCmd.Flags().Duration("cache-ttl", 0, "evict cache entries unused for this long (0 disables)")
	serveCmd.Flags().String("tls-cert", "", "TLS certificate file (PEM)")
	serveCmd.Flags().String("tls-key", "", "TLS private key file (PEM)")
	serveCmd.Flags().StringArray("header", nil, `additional response header, "Name: Value" (repeatable)`)
	serveCmd.Flags().StringArray("mime", nil, `MIME override, ".ext=type" (repeatable)`)
	serveCmd.Flags().StringArray("proxy", nil, `trusted proxy, "CIDR=Header" supplying client addresses (repeatable)`)
	serveCmd.Flags().StringArray("proxy-redir", nil, `trusted proxy, "CIDR=Header" supplying redirect URLs (repeatable)`)
	serveCmd.Flags().String("auth", "", `inline global credential, "user" or "user:password"`)
	serveCmd.Flags().String("global-user", "", "stored user backing the global auth policy")

	for _, name := range []string{
		"root", "addr", "port-from", "port-to", "writes", "webdav",
		"follow-symlinks", "sandbox-symlinks", "listings", "check-indices",
		"temp-dir", "cache-fs-limit", "cache-gen-limit", "cache-ttl",
		"tls-cert", "tls-key", "header", "mime", "proxy", "proxy-redir",
		"auth", "global-user",
	} {
		viper.BindPFlag(strings.ReplaceAll(name, "-", "_"), serveCmd.Flags().Lookup(name))
	}
	// Port flags keep their dashed keys so the range reads as a pair.
	viper.BindPFlag("port-from", serveCmd.Flags().Lookup("port-from"))
	viper.BindPFlag("port-to", serveCmd.Flags().Lookup("port-to"))
}

// parseHeaders splits "Name: Value" rows; rows without a colon are skipped.
func parseHeaders(rows []string) []server.KV {
	var out []server.KV
	for _, row := range rows {
		if name, value, ok := strings.Cut(row, ":"); ok {
			out = append(out, server.KV{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
		}
	}
	return out
}

// parseMimeOverrides splits ".ext=type" rows into the override map.
func parseMimeOverrides(rows []string) map[string]string {
	if len(rows) == 0 {
		return nil
	}
	out := make(map[string]string, len(rows))
	for _, row := range rows {
		if ext, typ, ok := strings.Cut(row, "="); ok {
			ext = strings.ToLower(strings.TrimSpace(ext))
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			out[ext] = strings.TrimSpace(typ)
		}
	}
	return out
}

// parseSizeBytes parses a size string like "2G", "512M" or "1024" into
// bytes. Returns 0 for empty or invalid input.
func parseSizeBytes(s string) int64 {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0
	}
	if strings.HasSuffix(s, "B") && len(s) > 1 {
		s = s[:len(s)-1]
	}
	var mult int64 = 1
	switch {
	case strings.HasSuffix(s, "G"):
		mult, s = 1<<30, s[:len(s)-1]
	case strings.HasSuffix(s, "M"):
		mult, s = 1<<20, s[:len(s)-1]
	case strings.HasSuffix(s, "K"):
		mult, s = 1<<10, s[:len(s)-1]
	}
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n * mult
}
