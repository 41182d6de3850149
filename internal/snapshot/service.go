package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"drive-go/internal/drive"
)

// Service takes, lists, prunes and restores snapshots.
type Service struct {
	source    Source
	encryptor Encryptor
	vaults    []Vault
	clock     drive.Clock
	logger    drive.Logger
	tempDir   string
}

// NewService creates a Service. tempDir holds intermediate files and defaults
// to the OS temp directory.
func NewService(source Source, encryptor Encryptor, vaults []Vault, clock drive.Clock, logger drive.Logger, tempDir string) *Service {
	if clock == nil {
		clock = drive.SystemClock{}
	}
	if logger == nil {
		logger = drive.NewNopLogger()
	}
	return &Service{
		source:    source,
		encryptor: encryptor,
		vaults:    vaults,
		clock:     clock,
		logger:    logger,
		tempDir:   tempDir,
	}
}

// Vaults returns the configured vaults.
func (s *Service) Vaults() []Vault {
	return s.vaults
}

// Backup snapshots the source, encrypts it and stores it in every vault.
// It fails if any vault rejects the snapshot.
func (s *Service) Backup(ctx context.Context) (*Info, error) {
	if len(s.vaults) == 0 {
		return nil, fmt.Errorf("no vaults configured")
	}
	if !s.encryptor.IsConfigured() {
		return nil, fmt.Errorf("encryption keys are not set up")
	}

	work, err := os.MkdirTemp(s.tempDir, "snapshot-*")
	if err != nil {
		return nil, fmt.Errorf("creating work directory: %w", err)
	}
	defer os.RemoveAll(work)

	plainPath := filepath.Join(work, "drive.db")
	if err := s.source.BackupTo(plainPath); err != nil {
		return nil, fmt.Errorf("copying database: %w", err)
	}

	now := s.clock.Now()
	name := Name(now)
	sealedPath := filepath.Join(work, name)
	if err := s.encryptFile(plainPath, sealedPath); err != nil {
		return nil, err
	}
	// The plaintext copy is not needed past this point.
	os.Remove(plainPath)

	st, err := os.Stat(sealedPath)
	if err != nil {
		return nil, fmt.Errorf("stat snapshot: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, v := range s.vaults {
		v := v
		g.Go(func() error {
			f, err := os.Open(sealedPath)
			if err != nil {
				return fmt.Errorf("opening snapshot: %w", err)
			}
			defer f.Close()
			if err := v.PutSnapshot(gctx, name, f, st.Size()); err != nil {
				return fmt.Errorf("storing snapshot in vault %q: %w", v.Name(), err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.logger.Info("snapshot stored", "name", name, "size", humanize.IBytes(uint64(st.Size())), "vaults", len(s.vaults))
	return &Info{Name: name, Size: st.Size(), CreatedAt: now.UTC().Truncate(time.Second)}, nil
}

func (s *Service) encryptFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("opening database copy: %w", err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("creating snapshot file: %w", err)
	}
	if err := s.encryptor.Encrypt(in, out); err != nil {
		out.Close()
		return fmt.Errorf("encrypting snapshot: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("closing snapshot file: %w", err)
	}
	return nil
}

// List returns the snapshots held by the named vault, newest first. Files
// that are not snapshots are ignored.
func (s *Service) List(ctx context.Context, vaultName string) ([]Info, error) {
	v, err := s.vault(vaultName)
	if err != nil {
		return nil, err
	}
	return listSorted(ctx, v)
}

func listSorted(ctx context.Context, v Vault) ([]Info, error) {
	all, err := v.ListSnapshots(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing vault %q: %w", v.Name(), err)
	}
	out := make([]Info, 0, len(all))
	for _, info := range all {
		created, ok := ParseName(info.Name)
		if !ok {
			continue
		}
		info.CreatedAt = created
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Prune keeps the newest keep snapshots in every vault and deletes the rest.
// It returns the number of snapshots deleted.
func (s *Service) Prune(ctx context.Context, keep int) (int, error) {
	if keep < 1 {
		return 0, fmt.Errorf("keep must be at least 1, got %d", keep)
	}
	deleted := 0
	var errs []error
	for _, v := range s.vaults {
		infos, err := listSorted(ctx, v)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if len(infos) <= keep {
			continue
		}
		for _, info := range infos[keep:] {
			if err := v.DeleteSnapshot(ctx, info.Name); err != nil {
				errs = append(errs, fmt.Errorf("deleting %s from vault %q: %w", info.Name, v.Name(), err))
				continue
			}
			deleted++
			s.logger.Info("snapshot pruned", "name", info.Name, "vault", v.Name())
		}
	}
	return deleted, errors.Join(errs...)
}

// Restore fetches a snapshot from the named vault, decrypts it with the
// private key unlocked by passphrase and writes the database to destPath.
// An empty name selects the newest snapshot. destPath must not exist.
func (s *Service) Restore(ctx context.Context, vaultName, name, passphrase, destPath string) (*Info, error) {
	v, err := s.vault(vaultName)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(destPath); err == nil {
		return nil, fmt.Errorf("refusing to overwrite existing file %s", destPath)
	}

	info, err := s.pick(ctx, v, name)
	if err != nil {
		return nil, err
	}

	dec, err := s.encryptor.Unlock(passphrase)
	if err != nil {
		return nil, fmt.Errorf("unlocking private key: %w", err)
	}

	work, err := os.MkdirTemp(s.tempDir, "restore-*")
	if err != nil {
		return nil, fmt.Errorf("creating work directory: %w", err)
	}
	defer os.RemoveAll(work)

	sealedPath := filepath.Join(work, info.Name)
	sealed, err := os.Create(sealedPath)
	if err != nil {
		return nil, fmt.Errorf("creating download file: %w", err)
	}
	if err := v.GetSnapshot(ctx, info.Name, sealed); err != nil {
		sealed.Close()
		return nil, fmt.Errorf("fetching %s from vault %q: %w", info.Name, v.Name(), err)
	}
	if _, err := sealed.Seek(0, io.SeekStart); err != nil {
		sealed.Close()
		return nil, fmt.Errorf("rewinding download: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		sealed.Close()
		return nil, fmt.Errorf("creating destination directory: %w", err)
	}
	tmpDest := destPath + ".restoring"
	out, err := os.OpenFile(tmpDest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		sealed.Close()
		return nil, fmt.Errorf("creating restore file: %w", err)
	}
	decErr := dec.Decrypt(sealed, out)
	sealed.Close()
	if cerr := out.Close(); decErr == nil {
		decErr = cerr
	}
	if decErr != nil {
		os.Remove(tmpDest)
		return nil, fmt.Errorf("decrypting snapshot: %w", decErr)
	}
	if err := os.Rename(tmpDest, destPath); err != nil {
		os.Remove(tmpDest)
		return nil, fmt.Errorf("moving restored database into place: %w", err)
	}

	s.logger.Info("snapshot restored", "name", info.Name, "vault", v.Name(), "dest", destPath)
	return &info, nil
}

func (s *Service) pick(ctx context.Context, v Vault, name string) (Info, error) {
	infos, err := listSorted(ctx, v)
	if err != nil {
		return Info{}, err
	}
	if name == "" {
		if len(infos) == 0 {
			return Info{}, fmt.Errorf("vault %q: %w", v.Name(), ErrNotFound)
		}
		return infos[0], nil
	}
	for _, info := range infos {
		if info.Name == name {
			return info, nil
		}
	}
	return Info{}, fmt.Errorf("%s in vault %q: %w", name, v.Name(), ErrNotFound)
}

// vault returns the vault with the given name, or the first vault when name
// is empty.
func (s *Service) vault(name string) (Vault, error) {
	if len(s.vaults) == 0 {
		return nil, fmt.Errorf("no vaults configured")
	}
	if name == "" {
		return s.vaults[0], nil
	}
	for _, v := range s.vaults {
		if v.Name() == name {
			return v, nil
		}
	}
	return nil, fmt.Errorf("unknown vault %q", name)
}
