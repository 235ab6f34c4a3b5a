package persistence

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/betbot/igcli/pkg/logger"
)

// Store 按 key 分区的存储接口
type Store interface {
	Load(key string, out interface{}) error
	Save(key string, data interface{}) error
}

// ErrNotExists 表示数据不存在
var ErrNotExists = errors.New("persistence data not exists")

// ErrMalformed 文件存在但无法解析
var ErrMalformed = errors.New("persistence file malformed")

// YAMLFileStore 单个 YAML 文件，顶层是 key -> 文档 的映射。
// Save 只替换自己的 key，其余条目原样保留。
type YAMLFileStore struct {
	path string
	mu   sync.Mutex
}

// NewYAMLFileStore 创建 YAML 文件存储
func NewYAMLFileStore(path string) *YAMLFileStore {
	return &YAMLFileStore{path: path}
}

// Path 文件路径
func (s *YAMLFileStore) Path() string {
	return s.path
}

// readAll 读取顶层映射节点。整个文件按 yaml.Node 解析，
// 这样其他账户的条目可以原样写回
func (s *YAMLFileStore) readAll() (*yaml.Node, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotExists
		}
		return nil, errors.Wrapf(err, "read %s", s.path)
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return newMapping(), nil
	}
	var root yaml.Node
	if err := yaml.Unmarshal(b, &root); err != nil {
		return nil, errors.Wrapf(ErrMalformed, "%s: %v", s.path, err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return newMapping(), nil
	}
	doc := root.Content[0]
	if doc.Kind == yaml.ScalarNode && doc.Tag == "!!null" {
		return newMapping(), nil
	}
	if doc.Kind != yaml.MappingNode {
		return nil, errors.Wrapf(ErrMalformed, "%s: top level is not a mapping", s.path)
	}
	return doc, nil
}

func newMapping() *yaml.Node {
	return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
}

// lookup 返回 key 对应值节点在 Content 中的下标，没有时返回 -1
func lookup(doc *yaml.Node, key string) int {
	for i := 0; i+1 < len(doc.Content); i += 2 {
		if doc.Content[i].Value == key {
			return i + 1
		}
	}
	return -1
}

// Check 校验文件可解析；文件不存在不算错误
func (s *YAMLFileStore) Check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.readAll()
	if err == ErrNotExists {
		return nil
	}
	return err
}

// Load 读取 key 对应的条目
func (s *YAMLFileStore) Load(key string, out interface{}) error {
	logger.Debugf("[persistence] Load: path=%s key=%s", s.path, key)
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readAll()
	if err != nil {
		return err
	}
	i := lookup(doc, key)
	if i < 0 {
		return ErrNotExists
	}
	node := doc.Content[i]
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return ErrNotExists
	}
	if err := node.Decode(out); err != nil {
		return errors.Wrapf(ErrMalformed, "%s: key %s: %v", s.path, key, err)
	}
	return nil
}

// Save 写入 key 对应的条目（tmp + rename）
func (s *YAMLFileStore) Save(key string, data interface{}) error {
	logger.Debugf("[persistence] Save: path=%s key=%s", s.path, key)
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readAll()
	if err == ErrNotExists {
		doc = newMapping()
	} else if err != nil {
		// 坏文件不覆盖，避免丢掉其他账户的配置
		return err
	}

	node := &yaml.Node{}
	if err := node.Encode(data); err != nil {
		return errors.Wrap(err, "encode")
	}
	if i := lookup(doc, key); i >= 0 {
		doc.Content[i] = node
	} else {
		doc.Content = append(doc.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
			node)
	}

	b, err := yaml.Marshal(doc)
	if err != nil {
		return errors.Wrap(err, "marshal")
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
