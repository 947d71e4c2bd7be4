package consensus

//
//              ViewClock timeout / leaf decided
//                          |
//                          v
//                  ViewChange(V) on the bus
//                          |
//        +-----------------+--------------------+
//        v                                      v
//  TransactionTask                           VIDTask
//  (leader of V+1 only)                      poll for V+1
//  wait for txs, disperse                       |
//        |                                      |
//        +--> BlockReady(V+1) --> DecideTask    |
//        +--> VidDisperseSend ---> network ---> VidDisperseRecv
//                                               |  verify, vote
//                                               v
//                                   VidVoteSend --> leader
//                                               |
//                          VidVoteRecv: VIDTask spawns one
//                          VoteCollectionTask per view
//                                               |
//                                               v
//                          VidCertSend / VidCertRecv --> DecideTask
//                                               |
//                                               v
//                          LeafDecided --> TransactionTask (mempool)
//                                      --> ConsensusState (ViewClock)
//
//ConsensusState - 共识入口，持有event bus和task registry
//	- TransactionTask - 维护mempool，leader负责打包交易并做VID dispersal
//	- VIDTask - 校验dispersal并投票，leader为每个view启动一个VoteCollectionTask
//	- VoteCollectionTask - Accumulating -> Certified，达到阈值后发布证书
//	- DecideTask - 收到VID证书后决定该view的leaf
//	- Exchange - 成员关系、leader、门限签名
