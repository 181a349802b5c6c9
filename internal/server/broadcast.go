package server

const broadcastChannelSize = 256

// Broadcast methods (handleBroadcast, sendToAllClients, broadcastUpdate) live
// on RepoSession in session.go.
