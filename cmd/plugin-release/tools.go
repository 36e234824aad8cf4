package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spinplugins/plugin-release/internal/build"
	"github.com/spinplugins/plugin-release/internal/generate"
	"github.com/spinplugins/plugin-release/internal/install"
	"github.com/spinplugins/plugin-release/internal/signing"
	"github.com/spinplugins/plugin-release/internal/verify"
	"github.com/spinplugins/plugin-release/pkg/client"
	"github.com/spinplugins/plugin-release/pkg/manifest"
)

func newInstallCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Build for this machine and install the plugin from a local manifest",
		Args:  cobra.NoArgs,
		Run: a.action(func(ctx context.Context, cmd *cobra.Command, _ []string) error {
			project, err := a.project(cmd)
			if err != nil {
				return err
			}
			manifestPath := must(cmd.Flags().GetString("manifest"))
			if manifestPath == "" {
				manifestPath = generate.FileName(project.Name)
			}
			res, err := install.New(a.log, install.Options{
				Project:     project,
				Manifest:    manifestPath,
				WorkDir:     must(cmd.Flags().GetString("work-dir")),
				SkipInstall: must(cmd.Flags().GetBool("skip-install")),
			}, build.NewBuilder(a.log, project, ".")).Run(ctx)
			if err != nil {
				return err
			}
			a.log.Infof("installed %s for %s from %s", project.Name, res.Platform, res.URL)
			return nil
		}),
	}
	cmd.Flags().StringP("manifest", "m", "", "the manifest to patch (defaults to <name>.json)")
	cmd.Flags().String("work-dir", ".", "where the local tarball is written")
	cmd.Flags().Bool("skip-install", false, "only patch the manifest")
	return cmd
}

func verifySignature(checksumsPath, signaturePath, publicKeyPath string) (string, error) {
	pubring, err := os.Open(publicKeyPath)
	if err != nil {
		return "", err
	}
	defer pubring.Close()
	signed, err := os.Open(checksumsPath)
	if err != nil {
		return "", err
	}
	defer signed.Close()
	sig, err := os.Open(signaturePath)
	if err != nil {
		return "", err
	}
	defer sig.Close()
	return signing.VerifyDetached(pubring, signed, sig)
}

func newVerifyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <manifest path or url>",
		Short: "Check every package of a manifest against its sha256",
		Args:  cobra.ExactArgs(1),
		Run: a.action(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			if publicKey := must(cmd.Flags().GetString("public-key")); publicKey != "" {
				checksums := must(cmd.Flags().GetString("checksums"))
				if checksums == "" {
					return errors.New("--checksums is required to verify a signature")
				}
				keyID, err := verifySignature(checksums, checksums+signing.SignatureSuffix, publicKey)
				if err != nil {
					return err
				}
				a.log.Infof("%s is signed by %s", checksums, keyID)
			}

			v := verify.New()
			r, err := v.Open(ctx, args[0])
			if err != nil {
				return err
			}
			m, err := manifest.Decode(r)
			r.Close()
			if err != nil {
				return err
			}
			if err := m.Validate(); err != nil {
				return err
			}
			results, err := v.Manifest(ctx, m)
			for _, res := range results {
				if res.OK() {
					a.log.Infof("%s: ok", res.Platform)
				} else {
					a.log.Warnf("%s: expected %s, got %s (%s)", res.Platform, res.Expected, res.Actual, res.URL)
				}
			}
			return err
		}),
	}
	cmd.Flags().String("checksums", "", "a local checksums file to check the signature of")
	cmd.Flags().String("public-key", "", "armored public key used to check the checksums signature")
	return cmd
}

func newReleasesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "releases <plugin>",
		Short: "List the releases a release server knows about",
		Args:  cobra.ExactArgs(1),
		Run: a.action(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			serverURL := must(cmd.Flags().GetString("server"))
			if serverURL == "" {
				serverURL = a.cfg.RegistryURL
			}
			if serverURL == "" {
				return errors.New("no server URL provided")
			}
			releases, err := client.New(serverURL).GetReleases(ctx, args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CHANNEL\tVERSION\tPRERELEASE\tCREATED")
			for _, name := range releases.Channels() {
				r := releases.Find(name)
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", r.Channel, r.Version, r.Prerelease, r.CreatedAt.Format("2006-01-02"))
			}
			return w.Flush()
		}),
	}
	cmd.Flags().StringP("server", "s", "", "the release server URL (defaults to RELEASE_REGISTRY_URL)")
	return cmd
}
