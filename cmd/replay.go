package cmd

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"github.com/gopacket/gopacket/pcapgo"
	"github.com/spf13/cobra"
	"github.com/winlab/sdnproxy/core"
	"github.com/winlab/sdnproxy/fabric"
	"github.com/winlab/sdnproxy/perf"
	"github.com/winlab/sdnproxy/state"
)

var (
	topologyPath string
	capturePath  string
	ingressDev   string
	ingressPort  uint32
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Runs a packet capture through the engine on an emulated fabric",
	Long: `Builds an in-memory fabric from a topology file, starts the engine on it, announces the topology's routes and injects every frame of a pcap file at the given ingress.
Prints what the engine asked the fabric to do, followed by its tables.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := state.ReadConfig(configPath)
		if err != nil {
			return err
		}
		topo, err := fabric.ReadTopology(topologyPath)
		if err != nil {
			return err
		}
		ingress := state.Location{Device: state.DeviceId(ingressDev), Port: state.PortNumber(ingressPort)}
		if err := state.DeviceIdValidator(ingress.Device); err != nil {
			return err
		}

		logger, closer, err := core.NewLogger(cmd.ErrOrStderr(), logLevel(cmd), cfg.AppId, cfg.LogPath)
		if err != nil {
			return err
		}
		defer closer.Close()

		f := topo.Build()
		s, err := core.Start(*cfg, f.Services(), logger)
		if err != nil {
			return err
		}
		topo.AnnounceRoutes(f)
		// route updates are applied on the main loop, wait for them
		if _, err := s.DispatchWait(func(*state.State) (any, error) { return nil, nil }); err != nil {
			return errors.Join(err, core.Stop(s))
		}
		startup := f.Actions()

		frames, err := replay(f, ingress, capturePath)
		if err != nil {
			return errors.Join(err, core.Stop(s))
		}
		events := f.Actions()
		tables, _ := s.DispatchWait(func(s *state.State) (any, error) {
			return core.Inspect(s), nil
		})
		if err := core.Stop(s); err != nil {
			logger.Warn("cleanup failed", "error", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Startup (%d events):\n%s\n\n", len(startup), startup)
		fmt.Fprintf(out, "Replayed %d frames (%d events):\n%s\n\n", frames, len(events), events)
		if t, ok := tables.(string); ok {
			fmt.Fprint(out, t)
		}
		counters, err := perf.Snapshot()
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "\nDecisions:")
		for _, k := range slices.Sorted(maps.Keys(counters)) {
			fmt.Fprintf(out, " - %s %v\n", k, counters[k])
		}
		return nil
	},
	GroupID: "engine",
}

func replay(f *fabric.Fabric, ingress state.Location, path string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()
	r, err := pcapgo.NewReader(file)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", path, err)
	}
	n := 0
	for {
		data, _, err := r.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("frame %d: %w", n+1, err)
		}
		f.Inject(ingress, data)
		n++
	}
}

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().StringVarP(&topologyPath, "topology", "t", "topology.yaml", "emulated fabric description")
	replayCmd.Flags().StringVarP(&capturePath, "pcap", "p", "capture.pcap", "frames to replay")
	replayCmd.Flags().StringVar(&ingressDev, "device", "of:0000000000000001", "ingress device of the replayed frames")
	replayCmd.Flags().Uint32Var(&ingressPort, "port", 1, "ingress port of the replayed frames")
}
