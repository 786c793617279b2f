package sync

import "sync"

// keyedMutex はキーごとの相互排他を提供する。
// 同一キーのLockは先行するUnlockを待ってから取得される（後続は破棄されず直列化される）。
// 未使用になったエントリは参照カウントで回収し、キー数の増加でメモリが伸び続けない。
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// newKeyedMutex はkeyedMutexを生成する。
func newKeyedMutex() *keyedMutex {
	return &keyedMutex{
		locks: make(map[string]*lockEntry),
	}
}

// Lock は指定キーのロックを取得する。取得できるまでブロックする。
func (k *keyedMutex) Lock(key string) {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		entry = &lockEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
}

// Unlock は指定キーのロックを解放する。
// 待機者がいない場合はエントリをマップから削除する。
func (k *keyedMutex) Unlock(key string) {
	k.mu.Lock()
	entry, ok := k.locks[key]
	if !ok {
		k.mu.Unlock()
		panic("keyedMutex: unlock of unlocked key " + key)
	}
	entry.refs--
	if entry.refs == 0 {
		delete(k.locks, key)
	}
	k.mu.Unlock()

	entry.mu.Unlock()
}
