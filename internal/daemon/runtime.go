package daemon

import (
	"context"
	"fmt"
	"log"
	"net"
	"os/exec"
	"sync"
	"time"

	"github.com/tutu-network/inferencegate/internal/adapters"
	"github.com/tutu-network/inferencegate/internal/domain"
	"github.com/tutu-network/inferencegate/internal/infra/registry"
)

// serverBinaries maps a local model's modality to the loopback inference
// server binary that hosts it: llama.cpp's llama-server for text,
// stable-diffusion.cpp's sd-server for images, and a shap-e-style mesh
// server for 3D. All three expose a /health endpoint.
var serverBinaries = map[domain.Modality]string{
	domain.ModalityText:  "llama-server",
	domain.ModalityImage: "sd-server",
	domain.Modality3D:    "mesh-server",
}

// localRuntime materializes local models by spawning one inference-server
// subprocess per loaded model — chosen by the model's own modality — and
// wiring the matching loopback adapter to its HTTP port. It provides the
// lifecycle manager's load/unload callbacks.
type localRuntime struct {
	serverPaths map[domain.Modality]string
	registry    *registry.Registry
	threads     int

	mu    sync.Mutex
	procs map[string]*exec.Cmd
}

func newLocalRuntime(reg *registry.Registry, threads int) *localRuntime {
	paths := make(map[domain.Modality]string, len(serverBinaries))
	for modality, binary := range serverBinaries {
		path, err := exec.LookPath(binary)
		if err != nil {
			// Deferred failure: models can still be registered and
			// downloaded; loading one will report the missing runtime.
			log.Printf("[daemon] %s not found in PATH; local %s inference unavailable", binary, modality)
			continue
		}
		paths[modality] = path
	}
	return &localRuntime{serverPaths: paths, registry: reg, threads: threads, procs: make(map[string]*exec.Cmd)}
}

// localAdapterFor binds the adapter capability matching a local model's
// modality to a running server's base URL. The handle carries exactly one
// capability, so a local image model can never be asked for text.
func localAdapterFor(modality domain.Modality, baseURL string) (*adapters.Adapter, error) {
	switch modality {
	case domain.ModalityText:
		return &adapters.Adapter{Provider: "local", Text: adapters.NewLocalTextAdapter(baseURL)}, nil
	case domain.ModalityImage:
		return &adapters.Adapter{Provider: "local", Image: adapters.NewLocalImageAdapter(baseURL)}, nil
	case domain.Modality3D:
		return &adapters.Adapter{Provider: "local", Mesh: adapters.NewLocalMeshAdapter(baseURL)}, nil
	default:
		return nil, fmt.Errorf("no local runtime for modality %q", modality)
	}
}

// Load spawns the inference server for a model and waits for it to
// answer health checks. Invoked by the lifecycle manager outside its
// lock, so a slow model load never blocks other lifecycle operations.
func (rt *localRuntime) Load(ctx context.Context, modelID string) (any, uint64, error) {
	m, err := rt.registry.Get(modelID)
	if err != nil {
		return nil, 0, err
	}
	serverPath, ok := rt.serverPaths[m.Modality]
	if !ok {
		binary, known := serverBinaries[m.Modality]
		if !known {
			return nil, 0, fmt.Errorf("no local runtime for modality %q", m.Modality)
		}
		return nil, 0, fmt.Errorf("%s binary not found; install it or adjust PATH", binary)
	}
	if m.Status != domain.ModelAvailable || m.LocalPath == "" {
		return nil, 0, fmt.Errorf("model %s has no local bytes (status %s)", modelID, m.Status)
	}

	port, err := freePort()
	if err != nil {
		return nil, 0, err
	}
	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)

	args := []string{
		"-m", m.LocalPath,
		"--port", fmt.Sprintf("%d", port),
		"--host", "127.0.0.1",
	}
	if m.Modality == domain.ModalityText {
		args = append(args, "-t", fmt.Sprintf("%d", rt.threads))
	}
	cmd := exec.Command(serverPath, args...)
	if err := cmd.Start(); err != nil {
		return nil, 0, fmt.Errorf("start %s for %s: %w", serverBinaries[m.Modality], modelID, err)
	}

	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	if err := adapters.HealthCheck(healthCtx, baseURL, time.Second); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return nil, 0, fmt.Errorf("%s for %s never became healthy: %w", serverBinaries[m.Modality], modelID, err)
	}

	rt.mu.Lock()
	rt.procs[modelID] = cmd
	rt.mu.Unlock()

	log.Printf("[daemon] loaded %s on %s (pid %d)", modelID, baseURL, cmd.Process.Pid)
	adapter, err := localAdapterFor(m.Modality, baseURL)
	if err != nil {
		rt.Unload(modelID, nil)
		return nil, 0, err
	}
	return adapter, uint64(m.SizeBytes), nil
}

// Unload kills the model's subprocess. A kill failure is logged and the
// process abandoned; the lifecycle manager has already dropped the entry.
func (rt *localRuntime) Unload(modelID string, _ any) {
	rt.mu.Lock()
	cmd, ok := rt.procs[modelID]
	delete(rt.procs, modelID)
	rt.mu.Unlock()
	if !ok {
		return
	}
	if err := cmd.Process.Kill(); err != nil {
		log.Printf("[daemon] kill inference server for %s: %v", modelID, err)
	}
	cmd.Wait()
	log.Printf("[daemon] unloaded %s", modelID)
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
