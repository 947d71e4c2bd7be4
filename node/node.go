package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendermint/tendermint/libs/log"
	"github.com/tendermint/tendermint/libs/service"
	"github.com/tendermint/tendermint/p2p"
	"github.com/tendermint/tendermint/p2p/conn"
	rpcserver "github.com/tendermint/tendermint/rpc/jsonrpc/server"
	"github.com/tendermint/tendermint/version"

	cfg "vidbft/config"
	"vidbft/consensus"
	"vidbft/eventbus"
	"vidbft/libs/metric"
	mempl "vidbft/mempool"
	"vidbft/network"
	"vidbft/privval"
	"vidbft/rpc"
	"vidbft/state"
	"vidbft/store"
	"vidbft/types"
)

// Provider takes a config and a logger and returns a ready to go Node.
type Provider func(*cfg.Config, log.Logger) (*Node, error)

// MetricsProvider returns consensus and mempool Metrics.
type MetricsProvider func(chainID string) (*consensus.Metrics, *mempl.Metrics)

// DefaultMetricsProvider returns Metrics build using Prometheus client library
// if Prometheus is enabled. Otherwise, it returns no-op Metrics.
func DefaultMetricsProvider(config *cfg.Config) MetricsProvider {
	return func(chainID string) (*consensus.Metrics, *mempl.Metrics) {
		if config.Instrumentation.Prometheus {
			return consensus.PrometheusMetrics(config.Instrumentation.Namespace, "chain_id", chainID),
				mempl.PrometheusMetrics(config.Instrumentation.Namespace, "chain_id", chainID)
		}
		return consensus.NopMetrics(), mempl.NopMetrics()
	}
}

// Node is the highest level interface to a full vidbft node.
// It includes all configuration information and running services.
type Node struct {
	service.BaseService

	// config
	config  *cfg.Config
	genDoc  *types.GenesisDoc
	privVal *privval.FilePV

	// network
	transport *p2p.MultiplexTransport
	sw        *p2p.Switch // p2p connections
	nodeInfo  p2p.NodeInfo
	nodeKey   *p2p.NodeKey // our node privkey
	reactor   *network.Reactor
	bridge    *network.Bridge

	// services
	bus            *eventbus.EventBus
	mempool        *mempl.ListMempool
	leafStore      *store.KVStore
	consensusState *consensus.ConsensusState
	metricSet      *metric.MetricSet

	rpcListeners  []net.Listener
	prometheusSrv *http.Server
}

type Option func(*Node)

// DefaultNewNode returns a vidbft node with default settings for the
// PrivValidator, NodeKey and genesis file.
func DefaultNewNode(config *cfg.Config, logger log.Logger) (*Node, error) {
	nodeKey, err := p2p.LoadOrGenNodeKey(config.NodeKeyFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load or gen node key %s: %w", config.NodeKeyFile(), err)
	}
	genDoc, err := types.GenesisDocFromFile(config.GenesisFile())
	if err != nil {
		return nil, err
	}
	return NewNode(config, privval.LoadFilePV(config.PrivValidatorKeyFile()), nodeKey, genDoc,
		DefaultMetricsProvider(config), logger)
}

func createTransport(
	config *cfg.Config,
	nodeInfo p2p.NodeInfo,
	nodeKey *p2p.NodeKey,
) *p2p.MultiplexTransport {
	var (
		mConnConfig = conn.DefaultMConnConfig()
		transport   = p2p.NewMultiplexTransport(nodeInfo, *nodeKey, mConnConfig)
	)

	// Limit the number of incoming connections.
	max := config.P2P.MaxNumInboundPeers + len(splitAndTrimEmpty(config.P2P.UnconditionalPeerIDs, ",", " "))
	p2p.MultiplexTransportMaxIncomingConnections(max)(transport)

	return transport
}

func createSwitch(config *cfg.Config,
	transport p2p.Transport,
	netReactor *network.Reactor,
	nodeInfo p2p.NodeInfo,
	nodeKey *p2p.NodeKey,
	p2pLogger log.Logger) *p2p.Switch {

	sw := p2p.NewSwitch(
		config.P2P,
		transport,
	)
	sw.SetLogger(p2pLogger)
	sw.AddReactor("NETWORK", netReactor)

	sw.SetNodeInfo(nodeInfo)
	sw.SetNodeKey(nodeKey)

	p2pLogger.Info("P2P Node ID", "ID", nodeKey.ID(), "file", config.NodeKeyFile())
	return sw
}

func makeNodeInfo(
	config *cfg.Config,
	nodeKey *p2p.NodeKey,
	genDoc *types.GenesisDoc,
) (p2p.NodeInfo, error) {
	txIndexerStatus := "off"

	nodeInfo := p2p.DefaultNodeInfo{
		ProtocolVersion: p2p.NewProtocolVersion(
			version.P2PProtocol, // global
			version.BlockProtocol,
			0,
		),
		DefaultNodeID: nodeKey.ID(),
		Network:       genDoc.ChainID,
		Version:       version.TMCoreSemVer,
		Channels: []byte{
			network.GossipChannel, network.DirectChannel, network.RecordChannel,
		},
		Moniker: config.Moniker,
		Other: p2p.DefaultNodeInfoOther{
			TxIndex:    txIndexerStatus,
			RPCAddress: config.RPC.ListenAddress,
		},
	}

	lAddr := config.P2P.ExternalAddress

	if lAddr == "" {
		lAddr = config.P2P.ListenAddress
	}

	nodeInfo.ListenAddr = lAddr

	err := nodeInfo.Validate()
	return nodeInfo, err
}

// NewNode returns a new, ready to go, vidbft Node.
func NewNode(config *cfg.Config,
	privVal *privval.FilePV,
	nodeKey *p2p.NodeKey,
	genDoc *types.GenesisDoc,
	metricsProvider MetricsProvider,
	logger log.Logger,
	options ...Option) (*Node, error) {

	if err := genDoc.ValidateAndComplete(); err != nil {
		return nil, fmt.Errorf("invalid genesis doc: %w", err)
	}
	pubPoly, err := genDoc.PubPoly()
	if err != nil {
		return nil, fmt.Errorf("invalid threshold key in genesis: %w", err)
	}
	vals := genDoc.ValidatorSet()
	if !vals.HasAddress(privVal.GetAddress()) {
		logger.Info("This node is not a validator", "addr", privVal.GetAddress())
	}
	logger.Debug("Loaded validator set", "validators", vals)

	csMetrics, memMetrics := metricsProvider(genDoc.ChainID)

	// leaf store
	leafStore, err := store.NewKVStore("leaves", config.DBDir(), logger.With("module", "store"))
	if err != nil {
		return nil, fmt.Errorf("failed to open leaf store: %w", err)
	}
	ledger := state.MakeGenesisState(genDoc.ChainID)
	ledger.SetStore(leafStore)

	// mempool
	mempool := mempl.NewListMempool(config.Mempool,
		mempl.WithMetrics(memMetrics),
		mempl.SetPreCheck(mempl.PreCheckMaxBytes(int64(config.Mempool.MaxTxBytes))))
	mempool.SetLogger(logger.With("module", "mempool"))

	// consensus
	exchange := consensus.NewStaticExchange(genDoc.ChainID, vals, privVal, pubPoly)
	bus := eventbus.NewEventBus()
	netReactor := network.NewReactor(store.NewRecordStore(leafStore.GetDB()))
	netReactor.SetLogger(logger.With("module", "network"))
	consensusState := consensus.NewConsensusState(config.Consensus, ledger, mempool, exchange,
		consensus.StateMetrics(csMetrics),
		consensus.SetEventBus(bus),
		consensus.SetIntentSink(netReactor),
	)
	consensusState.SetLogger(logger.With("module", "consensus"))
	bridge := network.NewBridge(netReactor, bus, exchange.Address(), exchange)
	bridge.SetLogger(logger.With("module", "bridge"))

	metricSet := metric.NewMetricSet()
	if err := metricSet.SetMetrics("mempool", mempool.Metric()); err != nil {
		return nil, err
	}
	if err := metricSet.SetMetrics("consensus", consensusState.Metric()); err != nil {
		return nil, err
	}
	err = metricSet.SetMetrics("network", metric.ItemFunc(func() string {
		s, _ := jsoniter.MarshalToString(map[string]interface{}{
			"peers":  netReactor.ConnectedPeerCount(),
			"polled": netReactor.IsPolling(network.TopicVidDisperse, consensusState.CurrentView()+1),
		})
		return s
	}))
	if err != nil {
		return nil, err
	}

	p2pLogger := logger.With("module", "p2p")

	// setup node identity
	nodeInfo, err := makeNodeInfo(config, nodeKey, genDoc)
	if err != nil {
		return nil, err
	}

	// Setup Transport.
	transport := createTransport(config, nodeInfo, nodeKey)

	// Setup Switch.
	sw := createSwitch(
		config, transport, netReactor, nodeInfo, nodeKey, p2pLogger,
	)

	node := &Node{
		config:         config,
		genDoc:         genDoc,
		privVal:        privVal,
		transport:      transport,
		sw:             sw,
		nodeInfo:       nodeInfo,
		nodeKey:        nodeKey,
		reactor:        netReactor,
		bridge:         bridge,
		bus:            bus,
		mempool:        mempool,
		leafStore:      leafStore,
		consensusState: consensusState,
		metricSet:      metricSet,
	}

	node.BaseService = *service.NewBaseService(logger, "Node", node)
	for _, option := range options {
		option(node)
	}

	return node, nil
}

func (n *Node) OnStart() error {
	if n.config.Instrumentation.Prometheus &&
		n.config.Instrumentation.PrometheusListenAddr != "" {
		n.prometheusSrv = n.startPrometheusServer(n.config.Instrumentation.PrometheusListenAddr)
	}

	// start the transport
	addr, err := p2p.NewNetAddressString(p2p.IDAddressString(n.nodeKey.ID(), n.config.P2P.ListenAddress))
	if err != nil {
		return err
	}
	if err := n.transport.Listen(*addr); err != nil {
		return err
	}

	// start the Switch
	err = n.sw.Start()
	if err != nil {
		return err
	}

	if err := n.bus.Start(); err != nil {
		return err
	}
	// bridge先于共识启动，才能收到共识发出的第一批事件
	if err := n.bridge.Start(); err != nil {
		return err
	}
	if err := n.consensusState.Start(); err != nil {
		return err
	}

	if n.config.RPC.ListenAddress != "" {
		listeners, err := n.startRPC()
		if err != nil {
			return err
		}
		n.rpcListeners = listeners
	}

	n.Logger.Info("dialing persistent peers", "peers", n.config.P2P.PersistentPeers)
	err = n.sw.DialPeersAsync(splitAndTrimEmpty(n.config.P2P.PersistentPeers, ",", " "))
	if err != nil {
		return fmt.Errorf("could not dial peers from persistent_peers field: %w", err)
	}

	return nil
}

// OnStop stops the Node. It implements service.Service.
func (n *Node) OnStop() {
	n.BaseService.OnStop()
	n.Logger.Info("Stopping Node")

	var result *multierror.Error
	for _, l := range n.rpcListeners {
		n.Logger.Info("Closing rpc listener", "listener", l)
		if err := l.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close rpc listener: %w", err))
		}
	}
	if err := stopIfRunning(n.consensusState); err != nil {
		result = multierror.Append(result, fmt.Errorf("stop consensus: %w", err))
	}
	if err := stopIfRunning(n.bridge); err != nil {
		result = multierror.Append(result, fmt.Errorf("stop bridge: %w", err))
	}
	if err := stopIfRunning(n.sw); err != nil {
		result = multierror.Append(result, fmt.Errorf("stop switch: %w", err))
	}
	if err := n.transport.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close transport: %w", err))
	}
	if err := stopIfRunning(n.bus); err != nil {
		result = multierror.Append(result, fmt.Errorf("stop event bus: %w", err))
	}
	n.mempool.Close()
	if err := n.leafStore.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close leaf store: %w", err))
	}
	if n.prometheusSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := n.prometheusSrv.Shutdown(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("stop prometheus server: %w", err))
		}
		cancel()
	}

	if err := result.ErrorOrNil(); err != nil {
		n.Logger.Error("Error stopping node", "err", err)
	}
}

func stopIfRunning(s service.Service) error {
	if !s.IsRunning() {
		return nil
	}
	return s.Stop()
}

func (n *Node) startRPC() ([]net.Listener, error) {
	rpc.SetEnvironment(&rpc.Environment{
		Mempool:   n.mempool,
		Consensus: n.consensusState,
		Network:   n.reactor,
		Submitter: n.bridge,
		Store:     n.leafStore,
		MetricSet: n.metricSet,
		Logger:    n.Logger.With("module", "rpc"),
	})

	listenAddrs := splitAndTrimEmpty(n.config.RPC.ListenAddress, ",", " ")
	config := rpcserver.DefaultConfig()
	config.MaxBodyBytes = n.config.RPC.MaxBodyBytes
	config.MaxHeaderBytes = n.config.RPC.MaxHeaderBytes
	config.MaxOpenConnections = n.config.RPC.MaxOpenConnections

	listeners := make([]net.Listener, len(listenAddrs))
	for i, listenAddr := range listenAddrs {
		mux := http.NewServeMux()
		rpcLogger := n.Logger.With("module", "rpc-server")
		wmLogger := rpcLogger.With("protocol", "websocket")
		wm := rpcserver.NewWebsocketManager(rpc.Routes,
			rpcserver.ReadLimit(config.MaxBodyBytes),
		)
		wm.SetLogger(wmLogger)
		mux.HandleFunc("/websocket", wm.WebsocketHandler)
		rpcserver.RegisterRPCFuncs(mux, rpc.Routes, rpcLogger)
		listener, err := rpcserver.Listen(listenAddr, config)
		if err != nil {
			return nil, err
		}

		go func() {
			if err := rpcserver.Serve(listener, mux, rpcLogger, config); err != nil {
				n.Logger.Error("Error serving server", "err", err)
			}
		}()
		listeners[i] = listener
	}
	return listeners, nil
}

// startPrometheusServer starts a Prometheus HTTP server, listening for metrics
// collectors on addr.
func (n *Node) startPrometheusServer(addr string) *http.Server {
	srv := &http.Server{
		Addr: addr,
		Handler: promhttp.InstrumentMetricHandler(
			prometheus.DefaultRegisterer, promhttp.HandlerFor(
				prometheus.DefaultGatherer,
				promhttp.HandlerOpts{MaxRequestsInFlight: n.config.Instrumentation.MaxOpenConnections},
			),
		),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// Error starting or closing listener:
			n.Logger.Error("Prometheus HTTP server ListenAndServe", "err", err)
		}
	}()
	return srv
}

func (n *Node) Switch() *p2p.Switch {
	return n.sw
}

func (n *Node) NodeInfo() p2p.NodeInfo {
	return n.nodeInfo
}

func (n *Node) ConsensusState() *consensus.ConsensusState {
	return n.consensusState
}

func (n *Node) Mempool() *mempl.ListMempool {
	return n.mempool
}

func (n *Node) EventBus() *eventbus.EventBus {
	return n.bus
}

func (n *Node) Bridge() *network.Bridge {
	return n.bridge
}

func (n *Node) LeafStore() *store.KVStore {
	return n.leafStore
}

func (n *Node) GenesisDoc() *types.GenesisDoc {
	return n.genDoc
}

// splitAndTrimEmpty slices s into all subslices separated by sep and returns a
// slice of the string s with all leading and trailing Unicode code points
// contained in cutset removed. If sep is empty, SplitAndTrim splits after each
// UTF-8 sequence. First part is equivalent to strings.SplitN with a count of
// -1.  also filter out empty strings, only return non-empty strings.
func splitAndTrimEmpty(s, sep, cutset string) []string {
	if s == "" {
		return []string{}
	}

	spl := strings.Split(s, sep)
	nonEmptyStrings := make([]string, 0, len(spl))
	for i := 0; i < len(spl); i++ {
		element := strings.Trim(spl[i], cutset)
		if element != "" {
			nonEmptyStrings = append(nonEmptyStrings, element)
		}
	}
	return nonEmptyStrings
}
